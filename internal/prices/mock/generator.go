package mock

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/prices"
)

// Generator provides random-walk prices for development and simulation
type Generator struct {
	logger     *zap.SugaredLogger
	interval   time.Duration
	volatility float64

	mu     sync.Mutex
	base   map[string]decimal.Decimal
	last   map[string]decimal.Decimal
	health prices.ProviderHealth
	rng    *rand.Rand
}

// NewGenerator creates a new mock price generator. base maps provider symbols
// to their starting USD price.
func NewGenerator(logger *zap.SugaredLogger, base map[string]decimal.Decimal, volatility float64, interval time.Duration) *Generator {
	if volatility <= 0 {
		volatility = 0.002 // 0.2% per tick
	}
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}

	g := &Generator{
		logger:     logger,
		interval:   interval,
		volatility: volatility,
		base:       make(map[string]decimal.Decimal, len(base)),
		last:       make(map[string]decimal.Decimal, len(base)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
	for sym, price := range base {
		g.base[strings.ToUpper(sym)] = price
	}
	return g
}

// Name returns the provider identifier
func (g *Generator) Name() string {
	return "mock"
}

// Health returns current provider health status
func (g *Generator) Health() prices.ProviderHealth {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.health
}

// LatestPrice returns the last generated price, or the base price before
// any tick.
func (g *Generator) LatestPrice(_ context.Context, symbol string) (prices.Tick, error) {
	symbol = strings.ToUpper(symbol)

	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.last[symbol]
	if !ok {
		price, ok = g.base[symbol]
	}
	if !ok {
		return prices.Tick{}, fmt.Errorf("mock: unknown symbol %s", symbol)
	}
	return prices.Tick{Symbol: symbol, Price: price, TsMs: time.Now().UnixMilli()}, nil
}

// SubscribeLive generates mock real-time price updates
func (g *Generator) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Tick) error {
	symbol = strings.ToUpper(symbol)

	g.mu.Lock()
	base, ok := g.base[symbol]
	g.health.LastSuccess = time.Now()
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock: unknown symbol %s", symbol)
	}

	g.logger.Infow("Starting mock live price feed", "symbol", symbol, "basePrice", base)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	current := base
	lower := base.Mul(decimal.NewFromFloat(0.5))
	upper := base.Mul(decimal.NewFromFloat(1.5))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current = current.Mul(decimal.NewFromFloat(1 + g.priceChange())).Round(8)

			// Keep the walk within ±50% of base
			if current.LessThan(lower) {
				current = lower
			} else if current.GreaterThan(upper) {
				current = upper
			}

			tick := prices.Tick{
				Symbol: symbol,
				Price:  current,
				TsMs:   time.Now().UnixMilli(),
			}

			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Channel full, skip this tick
			}

			g.mu.Lock()
			g.last[symbol] = current
			g.health.LastSuccess = time.Now()
			g.mu.Unlock()
		}
	}
}

// priceChange draws a clamped, normally distributed relative move.
func (g *Generator) priceChange() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	change := g.rng.NormFloat64() * g.volatility

	// Occasional trend
	if g.rng.Float64() < 0.1 {
		change += (g.rng.Float64() - 0.5) * g.volatility * 2
	}

	maxChange := g.volatility * 5
	if change > maxChange {
		change = maxChange
	} else if change < -maxChange {
		change = -maxChange
	}
	return change
}

// SetBasePrice updates the base price for symbol
func (g *Generator) SetBasePrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.base[strings.ToUpper(symbol)] = price
}
