package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/prices"
)

// MarketReader is the read side of the ledger used for market summaries.
type MarketReader interface {
	Market(ctx context.Context, asset ledger.Address) (*ledger.Market, error)
	Utilization(ctx context.Context, asset ledger.Address) (*uint256.Int, error)
	BorrowRate(ctx context.Context, asset ledger.Address) (*uint256.Int, error)
}

// MarketSummary is the per-market record kept in KeyMarkets.
type MarketSummary struct {
	Asset           ledger.Address `json:"asset"`
	TotalDeposits   string         `json:"totalDeposits"`
	TotalBorrows    string         `json:"totalBorrows"`
	BorrowIndex     string         `json:"borrowIndex"`
	LastAccrualTime uint64         `json:"lastAccrualTime"`
	UtilizationBps  string         `json:"utilizationBps"`
	BorrowRateBps   string         `json:"borrowRateBps"`
	BorrowAPR       string         `json:"borrowApr"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// PriceMessage is published on ChannelPrices and kept in KeyPrices.
type PriceMessage struct {
	Asset     ledger.Address `json:"asset"`
	Symbol    string         `json:"symbol,omitempty"`
	USD       string         `json:"usd"`
	Price     string         `json:"price"`
	Source    string         `json:"source"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Publisher relays committed ledger events and oracle prices to the kv
// store. It implements ledger.EventSink.
type Publisher struct {
	cache   *Cache
	markets MarketReader
	logger  *zap.SugaredLogger
}

func NewPublisher(cache *Cache, markets MarketReader, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{cache: cache, markets: markets, logger: logger}
}

// Emit publishes e on ChannelEvents and refreshes the summaries of the
// markets it touched. Failures are logged; the ledger has already committed.
func (p *Publisher) Emit(ctx context.Context, e ledger.Event) {
	if err := p.cache.Publish(ctx, ChannelEvents, e.Record()); err != nil {
		p.logger.Warnw("Failed to publish ledger event", "id", e.ID, "kind", e.Kind, "error", err)
	}

	if p.markets == nil {
		return
	}
	for _, asset := range touchedMarkets(e) {
		if err := p.RefreshMarket(ctx, asset); err != nil {
			p.logger.Warnw("Failed to refresh market summary", "asset", asset, "error", err)
		}
	}
}

func touchedMarkets(e ledger.Event) []ledger.Address {
	if e.Kind == ledger.EventLiquidate {
		if e.BorrowAsset == e.CollateralAsset {
			return []ledger.Address{e.BorrowAsset}
		}
		return []ledger.Address{e.BorrowAsset, e.CollateralAsset}
	}
	if e.Asset.Valid() {
		return []ledger.Address{e.Asset}
	}
	return nil
}

// RefreshMarket recomputes and stores the summary for asset.
func (p *Publisher) RefreshMarket(ctx context.Context, asset ledger.Address) error {
	m, err := p.markets.Market(ctx, asset)
	if err != nil {
		return err
	}
	util, err := p.markets.Utilization(ctx, asset)
	if err != nil {
		return err
	}
	rate, err := p.markets.BorrowRate(ctx, asset)
	if err != nil {
		return err
	}

	summary := MarketSummary{
		Asset:           asset,
		TotalDeposits:   m.TotalDeposits.Dec(),
		TotalBorrows:    m.TotalBorrows.Dec(),
		BorrowIndex:     m.BorrowIndex.Dec(),
		LastAccrualTime: m.LastAccrualTime,
		UtilizationBps:  util.Dec(),
		BorrowRateBps:   rate.Dec(),
		BorrowAPR:       calc.BpsToRatio(rate).String(),
		UpdatedAt:       time.Now().UTC(),
	}
	return p.cache.HSet(ctx, KeyMarkets, string(asset), summary)
}

// MarketSummaries returns every stored summary keyed by asset.
func (p *Publisher) MarketSummaries(ctx context.Context) (map[ledger.Address]MarketSummary, error) {
	raw, err := p.cache.HGetAll(ctx, KeyMarkets)
	if err != nil {
		return nil, err
	}
	out := make(map[ledger.Address]MarketSummary, len(raw))
	for field, data := range raw {
		var s MarketSummary
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("market summary %s: %w", field, err)
		}
		out[ledger.Address(field)] = s
	}
	return out, nil
}

// PublishPrice records q under KeyPrices and announces it on ChannelPrices.
func (p *Publisher) PublishPrice(ctx context.Context, q prices.Quote) error {
	msg := PriceMessage{
		Asset:     q.Asset,
		Symbol:    q.Symbol,
		USD:       q.USD.String(),
		Source:    q.Source,
		UpdatedAt: q.UpdatedAt,
	}
	if q.Price != nil {
		msg.Price = q.Price.Dec()
	}
	if err := p.cache.HSet(ctx, KeyPrices, string(q.Asset), msg); err != nil {
		return err
	}
	return p.cache.Publish(ctx, ChannelPrices, msg)
}
