package mock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/leafsii-lending/internal/prices"
)

func newGenerator(t *testing.T) *Generator {
	return NewGenerator(zaptest.NewLogger(t).Sugar(),
		map[string]decimal.Decimal{"ethusdt": decimal.NewFromInt(2000)}, 0.01, 5*time.Millisecond)
}

func TestLatestPrice(t *testing.T) {
	g := newGenerator(t)

	tick, err := g.LatestPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "2000", tick.Price.String())

	_, err = g.LatestPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestSetBasePrice(t *testing.T) {
	g := newGenerator(t)
	g.SetBasePrice("ethusdt", decimal.Zero)
	g.SetBasePrice("btcusdt", decimal.NewFromInt(40000))

	tests := []struct {
		symbol   string
		expected string
	}{
		{"ETHUSDT", "2000"},
		{"BTCUSDT", "40000"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			tick, err := g.LatestPrice(context.Background(), tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tick.Price.String())
		})
	}
}

func TestSubscribeLive(t *testing.T) {
	g := newGenerator(t)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan prices.Tick, 16)
	done := make(chan error, 1)
	go func() { done <- g.SubscribeLive(ctx, "ETHUSDT", out) }()

	lower, upper := decimal.NewFromInt(1000), decimal.NewFromInt(3000)
	for i := 0; i < 3; i++ {
		select {
		case tick := <-out:
			assert.Equal(t, "ETHUSDT", tick.Symbol)
			assert.True(t, tick.Price.GreaterThanOrEqual(lower), tick.Price.String())
			assert.True(t, tick.Price.LessThanOrEqual(upper), tick.Price.String())
		case <-time.After(2 * time.Second):
			t.Fatal("no tick")
		}
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := g.LatestPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, g.Health().Healthy)
}

func TestSubscribeLiveUnknownSymbol(t *testing.T) {
	g := newGenerator(t)
	err := g.SubscribeLive(context.Background(), "DOGEUSDT", make(chan prices.Tick, 1))
	assert.Error(t, err)
}
