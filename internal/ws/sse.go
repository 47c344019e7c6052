package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/store"
)

// SSEHandler streams the same topics as the hub over server-sent events.
type SSEHandler struct {
	cache          *store.Cache
	logger         *zap.SugaredLogger
	allowedOrigins []string
	heartbeat      time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger, allowedOrigins []string) *SSEHandler {
	return &SSEHandler{
		cache:          cache,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		heartbeat:      30 * time.Second,
	}
}

// HandleSSE serves ?topics=events,prices&address=0x... Without topics the
// stream carries every event.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if origin := r.Header.Get("Origin"); origin != "" && originAllowed(h.allowedOrigins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}

	wanted := map[string]bool{}
	for _, t := range parseTopics(r.URL.Query().Get("topics")) {
		wanted[t] = true
	}
	if address := r.URL.Query().Get("address"); address != "" {
		wanted[AccountTopic(address)] = true
	}
	if len(wanted) == 0 {
		wanted[TopicEvents] = true
	}

	ctx := r.Context()
	sub, err := h.cache.Subscribe(ctx, store.ChannelEvents, store.ChannelPrices)
	if err != nil {
		h.logger.Errorw("SSE subscribe failed", "error", err)
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	h.logger.Debugw("SSE connection established", "topics", wanted)
	h.sendEvent(w, flusher, "connected", "", json.RawMessage(`{}`))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", "", json.RawMessage(fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix())))

		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			routed, ok := route(msg.Channel, msg.Payload)
			if !ok {
				continue
			}
			for _, topic := range routed.topics {
				if wanted[topic] {
					h.sendEvent(w, flusher, routed.kind, routed.id, routed.payload)
					break
				}
			}
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType, id string, data json.RawMessage) {
	fmt.Fprintf(w, "event: %s\n", eventType)
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
