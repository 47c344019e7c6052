package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env         string   `mapstructure:"LDG_ENV"`
	LogLevel    string   `mapstructure:"LDG_LOG_LEVEL"`
	HTTPAddr    string   `mapstructure:"LDG_HTTP_ADDR"`
	Admins      []string `mapstructure:"LDG_ADMINS"`
	MarketsFile string   `mapstructure:"LDG_MARKETS_FILE"`

	Store    StoreConfig    `mapstructure:",squash"`
	Journal  JournalConfig  `mapstructure:",squash"`
	Prices   PriceConfig    `mapstructure:",squash"`
	Rates    RateConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`

	// Loaded from MarketsFile, or DefaultMarkets when unset.
	Markets []MarketSpec `mapstructure:"-"`
}

type StoreConfig struct {
	Backend          string        `mapstructure:"LDG_KV_BACKEND"` // "memory", "redis"
	RedisURL         string        `mapstructure:"LDG_REDIS_URL"`
	SnapshotInterval time.Duration `mapstructure:"LDG_SNAPSHOT_INTERVAL"`
}

type JournalConfig struct {
	Driver string `mapstructure:"LDG_JOURNAL_DRIVER"` // "sqlite3", "pgx", "" to disable
	DSN    string `mapstructure:"LDG_JOURNAL_DSN"`
}

type PriceConfig struct {
	Provider       string        `mapstructure:"LDG_PRICE_PROVIDER"`        // "binance", "mock", "static"
	RetryInterval  time.Duration `mapstructure:"LDG_PRICE_RETRY_INTERVAL"`  // Resubscribe delay
	MockVolatility float64       `mapstructure:"LDG_PRICE_MOCK_VOLATILITY"` // Mock random walk step
	MaxAge         time.Duration `mapstructure:"LDG_ORACLE_MAX_AGE"`
}

// RateConfig holds the interest rate model in basis points.
type RateConfig struct {
	BaseRate       uint64 `mapstructure:"LDG_RATE_BASE"`
	Multiplier     uint64 `mapstructure:"LDG_RATE_MULTIPLIER"`
	Kink           uint64 `mapstructure:"LDG_RATE_KINK"`
	JumpMultiplier uint64 `mapstructure:"LDG_RATE_JUMP_MULTIPLIER"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"LDG_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"LDG_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("LDG_ENV", "dev")
	v.SetDefault("LDG_LOG_LEVEL", "")
	v.SetDefault("LDG_HTTP_ADDR", ":8080")
	v.SetDefault("LDG_ADMINS", "admin")
	v.SetDefault("LDG_MARKETS_FILE", "")
	v.SetDefault("LDG_KV_BACKEND", "memory")
	v.SetDefault("LDG_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("LDG_SNAPSHOT_INTERVAL", "30s")
	v.SetDefault("LDG_JOURNAL_DRIVER", "sqlite3")
	v.SetDefault("LDG_JOURNAL_DSN", "file:ledger.db?_journal_mode=WAL")
	v.SetDefault("LDG_PRICE_PROVIDER", "binance")
	v.SetDefault("LDG_PRICE_RETRY_INTERVAL", "5s")
	v.SetDefault("LDG_PRICE_MOCK_VOLATILITY", 0.002)
	v.SetDefault("LDG_ORACLE_MAX_AGE", "60s")
	v.SetDefault("LDG_RATE_BASE", 200)
	v.SetDefault("LDG_RATE_MULTIPLIER", 1000)
	v.SetDefault("LDG_RATE_KINK", 8000)
	v.SetDefault("LDG_RATE_JUMP_MULTIPLIER", 5000)
	v.SetDefault("LDG_RATE_LIMIT_RPM", 120)
	v.SetDefault("LDG_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	// Comma-separated lists
	for _, key := range []string{"LDG_ADMINS", "LDG_CORS_ALLOWED_ORIGINS"} {
		if raw := v.GetString(key); raw != "" {
			v.Set(key, splitList(raw))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.MarketsFile != "" {
		markets, err := LoadMarkets(cfg.MarketsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load markets: %w", err)
		}
		cfg.Markets = markets
	} else {
		cfg.Markets = DefaultMarkets()
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid LDG_ENV %q (must be dev, test, or prod)", c.Env)
	}
	if len(c.Admins) == 0 {
		return fmt.Errorf("LDG_ADMINS is required")
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("LDG_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid LDG_KV_BACKEND %q (must be memory or redis)", c.Store.Backend)
	}
	if c.Store.SnapshotInterval <= 0 {
		return fmt.Errorf("LDG_SNAPSHOT_INTERVAL must be positive")
	}
	switch c.Journal.Driver {
	case "":
	case "sqlite3", "pgx":
		if c.Journal.DSN == "" {
			return fmt.Errorf("LDG_JOURNAL_DSN is required when LDG_JOURNAL_DRIVER is set")
		}
	default:
		return fmt.Errorf("invalid LDG_JOURNAL_DRIVER %q (must be sqlite3 or pgx)", c.Journal.Driver)
	}
	switch c.Prices.Provider {
	case "binance", "mock", "static":
	default:
		return fmt.Errorf("invalid LDG_PRICE_PROVIDER %q (must be binance, mock, or static)", c.Prices.Provider)
	}
	if c.Prices.MaxAge <= 0 {
		return fmt.Errorf("LDG_ORACLE_MAX_AGE must be positive")
	}
	if c.Rates.Kink > 10000 {
		return fmt.Errorf("LDG_RATE_KINK %d exceeds 10000", c.Rates.Kink)
	}
	if c.Rates.JumpMultiplier <= c.Rates.Multiplier {
		return fmt.Errorf("LDG_RATE_JUMP_MULTIPLIER must exceed LDG_RATE_MULTIPLIER")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("no markets configured")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
