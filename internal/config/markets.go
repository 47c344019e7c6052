package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MarketSpec describes one listed asset.
type MarketSpec struct {
	Asset string `yaml:"asset"`
	// Symbol is the price provider's ticker, e.g. ETHUSDT.
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	// FallbackUSD is used while the feed has not produced a price. Empty
	// means no fallback.
	FallbackUSD string `yaml:"fallbackUsd"`
	// Faucet credits whole tokens to wallets at boot (dev only).
	Faucet map[string]string `yaml:"faucet"`
}

type marketsFile struct {
	Markets []MarketSpec `yaml:"markets"`
}

// LoadMarkets reads and validates a markets YAML file.
func LoadMarkets(path string) ([]MarketSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMarkets(raw)
}

func ParseMarkets(raw []byte) ([]MarketSpec, error) {
	var f marketsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Markets))
	for i, m := range f.Markets {
		if m.Asset == "" {
			return nil, fmt.Errorf("market %d: asset is required", i)
		}
		if _, dup := seen[m.Asset]; dup {
			return nil, fmt.Errorf("market %s: listed twice", m.Asset)
		}
		seen[m.Asset] = struct{}{}
		if m.Decimals > 18 {
			return nil, fmt.Errorf("market %s: decimals %d above 18", m.Asset, m.Decimals)
		}
		if m.FallbackUSD != "" {
			usd, err := decimal.NewFromString(m.FallbackUSD)
			if err != nil {
				return nil, fmt.Errorf("market %s: fallbackUsd: %w", m.Asset, err)
			}
			if !usd.IsPositive() {
				return nil, fmt.Errorf("market %s: fallbackUsd must be positive", m.Asset)
			}
		}
		for holder, amount := range m.Faucet {
			if _, err := decimal.NewFromString(amount); err != nil {
				return nil, fmt.Errorf("market %s: faucet %s: %w", m.Asset, holder, err)
			}
		}
	}
	return f.Markets, nil
}

// DefaultMarkets lists ETH, BTC and USDC against Binance USDT pairs.
func DefaultMarkets() []MarketSpec {
	return []MarketSpec{
		{Asset: "ETH", Symbol: "ETHUSDT", Decimals: 18, FallbackUSD: "2000"},
		{Asset: "BTC", Symbol: "BTCUSDT", Decimals: 8, FallbackUSD: "40000"},
		{Asset: "USDC", Symbol: "USDCUSDT", Decimals: 6, FallbackUSD: "1"},
	}
}
