package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteConfig holds the HTTP surface settings.
type RouteConfig struct {
	CORSOrigins    []string
	RateLimitRPM   int
	RequestTimeout time.Duration
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

func (h *Handler) Routes(m *Middleware, cfg RouteConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(cfg.CORSOrigins))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Long-lived streams skip compression and the request timeout.
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/stream", h.HandleSSE)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(cfg.RequestTimeout))
			r.Use(m.RateLimit(cfg.RateLimitRPM))

			r.Get("/prices", h.ListPrices)
			r.Get("/events", h.ListEvents)

			r.Route("/markets", func(r chi.Router) {
				r.Get("/", h.ListMarkets)
				r.Post("/", h.ListMarket)
				r.Get("/{asset}", h.GetMarket)
				r.Post("/{asset}/accrue", h.AccrueMarket)
			})

			r.Route("/accounts/{user}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Post("/{op}", h.AccountOperation)
			})

			r.Post("/liquidations", h.Liquidate)
			r.Post("/faucet", h.Faucet)
		})
	})

	return r
}
