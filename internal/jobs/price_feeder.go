package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leafsii/leafsii-lending/internal/prices"
)

// QuotePublisher announces oracle quotes to downstream consumers.
type QuotePublisher interface {
	PublishPrice(ctx context.Context, q prices.Quote) error
}

// PriceFeederConfig tunes the feeder.
type PriceFeederConfig struct {
	RetryInterval time.Duration // wait before resubscribing after a failure
	TickBuffer    int
}

// PriceFeeder keeps the oracle current from a live provider. A symbol whose
// subscription fails is retried after RetryInterval; its assets go stale in
// the meantime.
type PriceFeeder struct {
	provider  prices.Provider
	oracle    *prices.Oracle
	publisher QuotePublisher
	logger    *zap.SugaredLogger
	config    PriceFeederConfig
}

func NewPriceFeeder(provider prices.Provider, oracle *prices.Oracle, publisher QuotePublisher, logger *zap.SugaredLogger, config PriceFeederConfig) *PriceFeeder {
	if config.RetryInterval <= 0 {
		config.RetryInterval = 5 * time.Second
	}
	if config.TickBuffer <= 0 {
		config.TickBuffer = 100
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PriceFeeder{
		provider:  provider,
		oracle:    oracle,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// Prime seeds the oracle with one REST quote per symbol. Failures are logged
// and leave the fallback price in place.
func (f *PriceFeeder) Prime(ctx context.Context) {
	for _, symbol := range f.oracle.Registry().Symbols() {
		tick, err := f.provider.LatestPrice(ctx, symbol)
		if err != nil {
			f.logger.Warnw("Failed to prime price", "symbol", symbol, "provider", f.provider.Name(), "error", err)
			continue
		}
		f.handleTick(ctx, tick)
	}
}

// Run follows every registered symbol until ctx is done.
func (f *PriceFeeder) Run(ctx context.Context) error {
	symbols := f.oracle.Registry().Symbols()
	f.logger.Infow("Starting price feeder", "provider", f.provider.Name(), "symbols", symbols)

	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		g.Go(func() error {
			f.follow(ctx, symbol)
			return nil
		})
	}
	err := g.Wait()
	f.logger.Infow("Price feeder stopped")
	return err
}

// follow subscribes to symbol, resubscribing after failures.
func (f *PriceFeeder) follow(ctx context.Context, symbol string) {
	for {
		ticks := make(chan prices.Tick, f.config.TickBuffer)
		errc := make(chan error, 1)
		go func() { errc <- f.provider.SubscribeLive(ctx, symbol, ticks) }()

		err := f.drain(ctx, ticks, errc)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warnw("Live subscription ended; retrying",
			"symbol", symbol,
			"provider", f.provider.Name(),
			"retryIn", f.config.RetryInterval,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.config.RetryInterval):
		}
	}
}

// drain applies ticks until the subscription returns. On cancellation it
// waits for the subscription goroutine to exit.
func (f *PriceFeeder) drain(ctx context.Context, ticks <-chan prices.Tick, errc <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return <-errc
		case err := <-errc:
			// Apply whatever the subscription queued before it returned
			for {
				select {
				case tick := <-ticks:
					f.handleTick(ctx, tick)
				default:
					return err
				}
			}
		case tick := <-ticks:
			f.handleTick(ctx, tick)
		}
	}
}

func (f *PriceFeeder) handleTick(ctx context.Context, tick prices.Tick) {
	for _, asset := range f.oracle.ObserveTick(ctx, tick) {
		q, err := f.oracle.Quote(asset)
		if err != nil {
			f.logger.Debugw("Tick produced no usable quote", "asset", asset, "error", err)
			continue
		}
		if f.publisher == nil {
			continue
		}
		if err := f.publisher.PublishPrice(ctx, q); err != nil {
			f.logger.Warnw("Failed to publish price", "asset", asset, "error", err)
		}
	}
}
