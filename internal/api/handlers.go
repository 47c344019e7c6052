package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/access"
	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/journal"
	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/prices"
)

// CallerHeader names the address performing privileged or third-party calls.
const CallerHeader = "X-Caller-Address"

const maxBodyBytes = 1 << 16

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// EventReader serves the event history.
type EventReader interface {
	Recent(ctx context.Context, f journal.Filter) ([]ledger.EventRecord, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handler. Journal, Cache, WebSocket, SSE and Metrics are optional.
type Deps struct {
	Ledger  *ledger.Ledger
	Oracle  *prices.Oracle
	Vault   *custody.Vault
	Admins  *access.AdminList
	Journal EventReader
	Cache   Pinger

	WebSocket http.HandlerFunc
	SSE       http.HandlerFunc

	Logger  *zap.SugaredLogger
	Metrics MetricsInterface
	Clock   func() time.Time
}

type Handler struct {
	ledger  *ledger.Ledger
	oracle  *prices.Oracle
	vault   *custody.Vault
	admins  *access.AdminList
	journal EventReader
	cache   Pinger
	ws      http.HandlerFunc
	sse     http.HandlerFunc
	logger  *zap.SugaredLogger
	metrics MetricsInterface
	now     func() time.Time
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		ledger:  d.Ledger,
		oracle:  d.Oracle,
		vault:   d.Vault,
		admins:  d.Admins,
		journal: d.Journal,
		cache:   d.Cache,
		ws:      d.WebSocket,
		sse:     d.SSE,
		logger:  d.Logger,
		metrics: d.Metrics,
		now:     d.Clock,
	}
	if h.logger == nil {
		h.logger = zap.NewNop().Sugar()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.admins == nil {
		h.admins = access.NewAdminList()
	}
	return h
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz checks the kv store and that every listed market can be priced.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dto := ReadinessDTO{Status: "ready", Checks: map[string]string{}}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			dto.Status = "unavailable"
			dto.Checks["kv"] = err.Error()
		} else {
			dto.Checks["kv"] = "ok"
		}
	}

	assets, err := h.ledger.SupportedAssets(ctx)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	for _, asset := range assets {
		key := "price:" + string(asset)
		if _, err := h.oracle.Price(ctx, asset); err != nil {
			dto.Status = "unavailable"
			dto.Checks[key] = err.Error()
		} else {
			dto.Checks[key] = "ok"
		}
	}

	status := http.StatusOK
	if dto.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, dto)
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		h.writeError(w, http.StatusNotImplemented, "WS_DISABLED", "live updates are not enabled")
		return
	}
	h.ws(w, r)
}

func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if h.sse == nil {
		h.writeError(w, http.StatusNotImplemented, "SSE_DISABLED", "live updates are not enabled")
		return
	}
	h.sse(w, r)
}

// Request helpers

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}

func caller(r *http.Request) ledger.Address {
	return ledger.Address(strings.TrimSpace(r.Header.Get(CallerHeader)))
}

func pathAddress(r *http.Request, name string) ledger.Address {
	return ledger.Address(strings.TrimSpace(chi.URLParam(r, name)))
}

// decimals returns the configured precision of asset.
func (h *Handler) decimals(asset ledger.Address) (int32, bool) {
	feed, ok := h.oracle.Registry().Feed(asset)
	return feed.Decimals, ok
}

// parseAmount converts a human amount of asset into smallest units.
func (h *Handler) parseAmount(w http.ResponseWriter, asset ledger.Address, raw string) (*uint256.Int, bool) {
	decimals, ok := h.decimals(asset)
	if !ok {
		h.writeError(w, http.StatusNotFound, "UNKNOWN_ASSET", fmt.Sprintf("asset %q is not configured", asset))
		return nil, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err == nil {
		err = calc.ValidateAmount(d, string(asset))
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return nil, false
	}
	amount, err := calc.FromDecimalExact(d, decimals)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return nil, false
	}
	return amount, true
}

func (h *Handler) human(asset ledger.Address, v *uint256.Int) string {
	decimals, _ := h.decimals(asset)
	return calc.ToDecimal(v, decimals).String()
}

// Response helpers

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Warnw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("Ledger call failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	h.writeError(w, status, code, err.Error())
}
