package prices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

// Price sources reported in a Quote.
const (
	SourceFeed     = "feed"
	SourceFallback = "fallback"
	SourceStatic   = "static"
)

// Quote is the oracle's current view of one asset.
type Quote struct {
	Asset     ledger.Address  `json:"asset"`
	Symbol    string          `json:"symbol,omitempty"`
	USD       decimal.Decimal `json:"usd"`
	Price     *uint256.Int    `json:"-"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UpdateRecorder counts accepted observations.
type UpdateRecorder interface {
	RecordPriceUpdate(ctx context.Context, asset string)
}

type observation struct {
	usd   decimal.Decimal
	price *uint256.Int // nil when the feed reported an unusable value
	at    time.Time
}

// Oracle converts provider observations into ledger prices. It implements
// ledger.PriceOracle.
type Oracle struct {
	registry *Registry
	maxAge   time.Duration
	now      func() time.Time
	metrics  UpdateRecorder
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	observed map[ledger.Address]observation
	static   map[ledger.Address]*uint256.Int
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) OracleOption {
	return func(o *Oracle) { o.now = now }
}

// WithUpdateRecorder counts every accepted observation.
func WithUpdateRecorder(m UpdateRecorder) OracleOption {
	return func(o *Oracle) { o.metrics = m }
}

// NewOracle creates an oracle over registry. A zero maxAge disables the
// staleness check.
func NewOracle(registry *Registry, maxAge time.Duration, logger *zap.SugaredLogger, opts ...OracleOption) *Oracle {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	o := &Oracle{
		registry: registry,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger,
		observed: make(map[ledger.Address]observation),
		static:   make(map[ledger.Address]*uint256.Int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the feed registry.
func (o *Oracle) Registry() *Registry {
	return o.registry
}

// Observe records a USD-per-whole-token observation for asset.
func (o *Oracle) Observe(ctx context.Context, asset ledger.Address, usd decimal.Decimal, at time.Time) error {
	feed, ok := o.registry.Feed(asset)
	if !ok {
		return fmt.Errorf("observe %s: no feed registered", asset)
	}

	obs := observation{usd: usd, at: at}
	if usd.IsPositive() {
		scaled, err := calc.ScalePrice(usd, feed.Decimals)
		if err != nil {
			return fmt.Errorf("observe %s: %w", asset, err)
		}
		if !scaled.IsZero() {
			obs.price = scaled
		}
	}
	if obs.price == nil {
		o.logger.Warnw("Feed reported unusable price", "asset", asset, "usd", usd)
	}

	o.mu.Lock()
	o.observed[asset] = obs
	o.mu.Unlock()

	if obs.price != nil && o.metrics != nil {
		o.metrics.RecordPriceUpdate(ctx, string(asset))
	}
	return nil
}

// ObserveTick applies a provider tick to every asset quoted by its symbol and
// returns those assets.
func (o *Oracle) ObserveTick(ctx context.Context, tick Tick) []ledger.Address {
	assets := o.registry.Assets(tick.Symbol)
	applied := make([]ledger.Address, 0, len(assets))
	for _, asset := range assets {
		if err := o.Observe(ctx, asset, tick.Price, tick.Time()); err != nil {
			o.logger.Warnw("Failed to apply tick", "asset", asset, "symbol", tick.Symbol, "error", err)
			continue
		}
		applied = append(applied, asset)
	}
	return applied
}

// SetStaticPrice pins asset to an exact scaled price, bypassing feeds.
func (o *Oracle) SetStaticPrice(asset ledger.Address, price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil {
		delete(o.static, asset)
		return
	}
	o.static[asset] = price.Clone()
}

// Price implements ledger.PriceOracle.
func (o *Oracle) Price(_ context.Context, asset ledger.Address) (*uint256.Int, error) {
	q, err := o.Quote(asset)
	if err != nil {
		return nil, err
	}
	return q.Price, nil
}

// Quote returns the current price of asset with its provenance.
func (o *Oracle) Quote(asset ledger.Address) (Quote, error) {
	o.mu.RLock()
	static, isStatic := o.static[asset]
	obs, observed := o.observed[asset]
	o.mu.RUnlock()

	feed, hasFeed := o.registry.Feed(asset)

	if isStatic {
		q := Quote{Asset: asset, Price: static.Clone(), Source: SourceStatic, UpdatedAt: o.now()}
		if hasFeed {
			q.Symbol = feed.Symbol
			q.USD = calc.PriceToUSD(static, feed.Decimals)
		}
		return q, nil
	}
	if !hasFeed {
		return Quote{}, fmt.Errorf("%s: %w", asset, ledger.ErrNoPriceAvailable)
	}

	if observed {
		if obs.price == nil {
			return Quote{}, fmt.Errorf("%s reported %s: %w", asset, obs.usd, ledger.ErrInvalidPriceFromFeed)
		}
		if o.maxAge > 0 {
			if age := o.now().Sub(obs.at); age > o.maxAge {
				return Quote{}, fmt.Errorf("%s observed %v ago: %w", asset, age.Truncate(time.Millisecond), ledger.ErrStalePrice)
			}
		}
		return Quote{
			Asset:     asset,
			Symbol:    feed.Symbol,
			USD:       obs.usd,
			Price:     obs.price.Clone(),
			Source:    SourceFeed,
			UpdatedAt: obs.at,
		}, nil
	}

	if feed.Fallback.Valid {
		price, err := calc.ScalePrice(feed.Fallback.Decimal, feed.Decimals)
		if err != nil || price.IsZero() {
			return Quote{}, fmt.Errorf("%s fallback %s: %w", asset, feed.Fallback.Decimal, ledger.ErrInvalidPriceFromFeed)
		}
		return Quote{
			Asset:  asset,
			Symbol: feed.Symbol,
			USD:    feed.Fallback.Decimal,
			Price:  price,
			Source: SourceFallback,
		}, nil
	}
	return Quote{}, fmt.Errorf("%s: %w", asset, ledger.ErrNoPriceAvailable)
}

// Quotes returns a quote for every registered feed. Assets without a usable
// price are omitted.
func (o *Oracle) Quotes() []Quote {
	feeds := o.registry.Feeds()
	out := make([]Quote, 0, len(feeds))
	for _, f := range feeds {
		q, err := o.Quote(f.Asset)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out
}
