package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single USD price observation for a provider symbol.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TsMs   int64           `json:"ts"` // milliseconds since epoch
}

// Time returns the tick's timestamp.
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.TsMs)
}

// Provider defines the interface for price data sources
type Provider interface {
	// LatestPrice returns the most recent USD price for a provider symbol
	// (e.g. "ETHUSDT").
	LatestPrice(ctx context.Context, symbol string) (Tick, error)

	// SubscribeLive streams ticks for symbol into out until ctx is done or
	// the connection fails. It never closes out.
	SubscribeLive(ctx context.Context, symbol string, out chan<- Tick) error

	// Name returns the provider identifier
	Name() string

	// Health returns current provider health status
	Health() ProviderHealth
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Reconnects  int       `json:"reconnects"`
}
