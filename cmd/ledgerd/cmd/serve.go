package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leafsii/leafsii-lending/internal/access"
	"github.com/leafsii/leafsii-lending/internal/api"
	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/config"
	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/jobs"
	"github.com/leafsii/leafsii-lending/internal/journal"
	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/log"
	"github.com/leafsii/leafsii-lending/internal/metrics"
	"github.com/leafsii/leafsii-lending/internal/prices"
	"github.com/leafsii/leafsii-lending/internal/prices/binance"
	"github.com/leafsii/leafsii-lending/internal/prices/mock"
	"github.com/leafsii/leafsii-lending/internal/store"
	"github.com/leafsii/leafsii-lending/internal/ws"
	"github.com/leafsii/leafsii-lending/pkg/kv"

	_ "github.com/leafsii/leafsii-lending/pkg/kv/memory"
	_ "github.com/leafsii/leafsii-lending/pkg/kv/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lending API server",
	Long: `Serve loads configuration from LDG_* environment variables (and .env
files), restores the last ledger snapshot and serves the HTTP API together
with the WebSocket and SSE streams.`,
	RunE: runServe,
}

var serveShutdownTimeout time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Infow("Starting lending ledger",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"version", version,
		"markets", len(cfg.Markets),
	)

	metricsObj, metricsHandler, err := metrics.Setup("ledgerd")
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:  kv.Backend(cfg.Store.Backend),
		RedisURL: cfg.Store.RedisURL,
		Logger:   logger.Infow,
	})
	if err != nil {
		return fmt.Errorf("setup kv store: %w", err)
	}
	cache := store.NewCache(kvStore, logger)
	defer cache.Close()

	registry, err := buildRegistry(cfg.Markets)
	if err != nil {
		return err
	}
	oracle := prices.NewOracle(registry, cfg.Prices.MaxAge, logger, prices.WithUpdateRecorder(metricsObj))
	if cfg.Prices.Provider == "static" {
		if err := pinFallbackPrices(oracle, cfg.Markets); err != nil {
			return err
		}
	}

	vault := custody.NewVault(logger)
	if cfg.IsDev() {
		if err := fundFaucets(vault, cfg.Markets); err != nil {
			return err
		}
	}
	admins := access.NewAdminList(cfg.Admins...)

	var jrnl *journal.Journal
	if cfg.Journal.Driver != "" {
		jrnl, err = journal.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN, logger)
		if err != nil {
			return err
		}
		defer jrnl.Close()
		if err := jrnl.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}

	// Sinks are assembled once the ledger exists; no events fire before then.
	sinks := ledger.Fanout{}
	l, err := ledger.New(ledger.Config{
		Oracle:     oracle,
		Custody:    vault,
		Authorizer: admins,
		RateModel: ledger.RateModel{
			BaseRate:       cfg.Rates.BaseRate,
			Multiplier:     cfg.Rates.Multiplier,
			Kink:           cfg.Rates.Kink,
			JumpMultiplier: cfg.Rates.JumpMultiplier,
		},
		Sink:    ledger.SinkFunc(func(ctx context.Context, e ledger.Event) { sinks.Emit(ctx, e) }),
		Metrics: metricsObj,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}

	publisher := store.NewPublisher(cache, l, logger)
	sinks = append(sinks, publisher)
	var events api.EventReader
	if jrnl != nil {
		sinks = append(sinks, jrnl)
		events = jrnl
	}

	snapshots := store.NewSnapshotStore(cache, logger)
	restored, err := snapshots.RestoreInto(ctx, l)
	if err != nil {
		logger.Warnw("Ignoring unusable snapshot", "error", err)
	}
	if !restored {
		if err := listMarkets(ctx, l, cfg.Admins[0], cfg.Markets); err != nil {
			return err
		}
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(cache, logger, cfg.Security.CORSAllowedOrigins)

	handler := api.NewHandler(api.Deps{
		Ledger:    l,
		Oracle:    oracle,
		Vault:     vault,
		Admins:    admins,
		Journal:   events,
		Cache:     cache,
		WebSocket: wsHub.HandleWebSocket,
		SSE:       sseHandler.HandleSSE,
		Logger:    logger,
		Metrics:   metricsObj,
	})
	router := handler.Routes(api.NewMiddleware(logger, metricsObj), api.RouteConfig{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		MetricsHandler: metricsHandler,
	})
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return snapshots.Run(gctx, l, cfg.Store.SnapshotInterval) })
	if provider != nil {
		feeder := jobs.NewPriceFeeder(provider, oracle, publisher, logger, jobs.PriceFeederConfig{
			RetryInterval: cfg.Prices.RetryInterval,
		})
		feeder.Prime(gctx)
		g.Go(func() error { return feeder.Run(gctx) })
	}
	g.Go(func() error {
		logger.Infow("API server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Infow("Server stopped", "error", err)
	return err
}

func buildRegistry(markets []config.MarketSpec) (*prices.Registry, error) {
	reg := prices.NewRegistry()
	for _, m := range markets {
		feed := prices.Feed{
			Asset:    ledger.Address(m.Asset),
			Symbol:   m.Symbol,
			Decimals: int32(m.Decimals),
		}
		if m.FallbackUSD != "" {
			usd, err := decimal.NewFromString(m.FallbackUSD)
			if err != nil {
				return nil, fmt.Errorf("market %s: fallback: %w", m.Asset, err)
			}
			feed.Fallback = decimal.NewNullDecimal(usd)
		}
		if err := reg.AddFeed(feed); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// pinFallbackPrices turns every fallback into a static price.
func pinFallbackPrices(oracle *prices.Oracle, markets []config.MarketSpec) error {
	for _, m := range markets {
		if m.FallbackUSD == "" {
			continue
		}
		usd, err := decimal.NewFromString(m.FallbackUSD)
		if err != nil {
			return fmt.Errorf("market %s: fallback: %w", m.Asset, err)
		}
		price, err := calc.ScalePrice(usd, int32(m.Decimals))
		if err != nil {
			return fmt.Errorf("market %s: %w", m.Asset, err)
		}
		oracle.SetStaticPrice(ledger.Address(m.Asset), price)
	}
	return nil
}

func fundFaucets(vault *custody.Vault, markets []config.MarketSpec) error {
	for _, m := range markets {
		for holder, amount := range m.Faucet {
			units, err := calc.ParseAmount(amount, int32(m.Decimals))
			if err != nil {
				return fmt.Errorf("market %s: faucet %s: %w", m.Asset, holder, err)
			}
			if err := vault.Credit(ledger.Address(m.Asset), ledger.Address(holder), units); err != nil {
				return fmt.Errorf("market %s: faucet %s: %w", m.Asset, holder, err)
			}
		}
	}
	return nil
}

func listMarkets(ctx context.Context, l *ledger.Ledger, admin string, markets []config.MarketSpec) error {
	for _, m := range markets {
		err := l.ListMarket(ctx, ledger.Address(admin), ledger.Address(m.Asset))
		if err != nil && !errors.Is(err, ledger.ErrMarketAlreadyListed) {
			return fmt.Errorf("list market %s: %w", m.Asset, err)
		}
	}
	return nil
}

// newProvider returns nil for the static provider.
func newProvider(cfg *config.Config, logger *zap.SugaredLogger) (prices.Provider, error) {
	switch cfg.Prices.Provider {
	case "binance":
		return binance.NewProvider(logger), nil
	case "mock":
		base := make(map[string]decimal.Decimal, len(cfg.Markets))
		for _, m := range cfg.Markets {
			if m.FallbackUSD == "" {
				continue
			}
			usd, err := decimal.NewFromString(m.FallbackUSD)
			if err != nil {
				return nil, fmt.Errorf("market %s: fallback: %w", m.Asset, err)
			}
			base[m.Symbol] = usd
		}
		return mock.NewGenerator(logger, base, cfg.Prices.MockVolatility, time.Second), nil
	case "static":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown price provider %q", cfg.Prices.Provider)
	}
}
