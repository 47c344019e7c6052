package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/leafsii-lending/internal/access"
	"github.com/leafsii/leafsii-lending/internal/config"
	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/prices"
	"github.com/leafsii/leafsii-lending/internal/prices/binance"
	"github.com/leafsii/leafsii-lending/internal/prices/mock"
)

var testMarkets = []config.MarketSpec{
	{Asset: "ETH", Symbol: "ETHUSDT", Decimals: 18, FallbackUSD: "2000", Faucet: map[string]string{"alice": "2.5"}},
	{Asset: "USDC", Symbol: "USDCUSDT", Decimals: 6, FallbackUSD: "1", Faucet: map[string]string{"bob": "1000"}},
	{Asset: "XYZ", Symbol: "XYZUSDT", Decimals: 8},
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		simJSON = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildRegistry(t *testing.T) {
	reg, err := buildRegistry(testMarkets)
	require.NoError(t, err)

	eth, ok := reg.Feed("ETH")
	require.True(t, ok)
	assert.Equal(t, int32(18), eth.Decimals)
	assert.True(t, eth.Fallback.Valid)
	assert.Equal(t, "2000", eth.Fallback.Decimal.String())

	xyz, ok := reg.Feed("XYZ")
	require.True(t, ok)
	assert.False(t, xyz.Fallback.Valid)

	_, err = buildRegistry([]config.MarketSpec{{Asset: "BAD", Symbol: "BADUSDT", Decimals: 18, FallbackUSD: "abc"}})
	assert.Error(t, err)
}

func TestPinFallbackPrices(t *testing.T) {
	reg, err := buildRegistry(testMarkets)
	require.NoError(t, err)
	oracle := prices.NewOracle(reg, 0, nil)
	require.NoError(t, pinFallbackPrices(oracle, testMarkets))

	tests := []struct {
		asset    ledger.Address
		expected *uint256.Int
	}{
		{"ETH", uint256.NewInt(2000)},
		{"USDC", uint256.NewInt(1_000_000_000_000)},
	}
	for _, tt := range tests {
		t.Run(string(tt.asset), func(t *testing.T) {
			q, err := oracle.Quote(tt.asset)
			require.NoError(t, err)
			assert.Equal(t, prices.SourceStatic, q.Source)
			assert.Equal(t, tt.expected, q.Price)
		})
	}

	_, err = oracle.Quote("XYZ")
	assert.ErrorIs(t, err, ledger.ErrNoPriceAvailable)
}

func TestFundFaucets(t *testing.T) {
	vault := custody.NewVault(nil)
	require.NoError(t, fundFaucets(vault, testMarkets))

	expected := uint256.MustFromDecimal("2500000000000000000")
	assert.Equal(t, expected, vault.Balance("ETH", "alice"))
	assert.Equal(t, uint256.NewInt(1_000_000_000), vault.Balance("USDC", "bob"))
	assert.True(t, vault.Balance("ETH", "bob").IsZero())

	err := fundFaucets(vault, []config.MarketSpec{{Asset: "ETH", Decimals: 18, Faucet: map[string]string{"carol": "lots"}}})
	assert.Error(t, err)
}

func TestListMarketsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, err := buildRegistry(testMarkets)
	require.NoError(t, err)
	l, err := ledger.New(ledger.Config{
		Oracle:     prices.NewOracle(reg, 0, nil),
		Custody:    custody.NewVault(nil),
		Authorizer: access.NewAdminList("admin"),
	})
	require.NoError(t, err)

	require.NoError(t, listMarkets(ctx, l, "admin", testMarkets))
	require.NoError(t, listMarkets(ctx, l, "admin", testMarkets))
	assets, err := l.SupportedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Address{"ETH", "USDC", "XYZ"}, assets)

	err = listMarkets(ctx, l, "mallory", []config.MarketSpec{{Asset: "DAI"}})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestNewProvider(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	tests := []struct {
		provider string
		check    func(t *testing.T, p prices.Provider)
		wantErr  bool
	}{
		{"binance", func(t *testing.T, p prices.Provider) { assert.IsType(t, &binance.Provider{}, p) }, false},
		{"mock", func(t *testing.T, p prices.Provider) { assert.IsType(t, &mock.Generator{}, p) }, false},
		{"static", func(t *testing.T, p prices.Provider) { assert.Nil(t, p) }, false},
		{"oracle", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.Config{Markets: testMarkets}
			cfg.Prices.Provider = tt.provider
			p, err := newProvider(cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestSimulateCommand(t *testing.T) {
	path := filepath.Join("..", "..", "..", "internal", "scenario", "testdata", "accrual.yaml")

	out, err := execute(t, "simulate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS one-year-accrual")

	out, err = execute(t, "simulate", "-f", path, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"passed": true`)
}

func TestSimulateCommandFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: broken
assets:
  - asset: C
    decimals: 18
    price: "1"
steps:
  - op: list
    asset: C
  - op: expect
    expect:
      asset: C
      totalDeposits: "5"
`), 0o644))

	out, err := execute(t, "simulate", "-f", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario "broken" failed`)
	assert.Contains(t, out, "FAIL broken")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ledgerd version "+version+"\n", out)
}
