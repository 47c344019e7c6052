package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/leafsii-lending/internal/prices"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(zaptest.NewLogger(t).Sugar(),
		WithEndpoints(srv.URL, "ws"+strings.TrimPrefix(srv.URL, "http")))
}

func TestLatestPrice(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"ok", http.StatusOK, `{"symbol":"ETHUSDT","price":"2000.50000000"}`, "2000.5", false},
		{"server error", http.StatusInternalServerError, `{}`, "", true},
		{"bad price", http.StatusOK, `{"symbol":"ETHUSDT","price":"n/a"}`, "", true},
		{"bad body", http.StatusOK, `not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
				assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			tick, err := p.LatestPrice(context.Background(), "ethusdt")
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, p.Health().Healthy)
				assert.NotEmpty(t, p.Health().LastError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ETHUSDT", tick.Symbol)
			assert.Equal(t, tt.want, tick.Price.String())
			assert.True(t, p.Health().Healthy)
		})
	}
}

func TestSubscribeLive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ethusdt@trade", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","E":1700000000123,"s":"ETHUSDT","p":"2001.25","q":"0.1"}`))
	}))

	out := make(chan prices.Tick, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.SubscribeLive(ctx, "ETHUSDT", out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, out, 1)
	tick := <-out
	assert.Equal(t, "ETHUSDT", tick.Symbol)
	assert.Equal(t, "2001.25", tick.Price.String())
	assert.Equal(t, int64(1700000000123), tick.TsMs)

	health := p.Health()
	assert.False(t, health.Healthy)
	assert.Equal(t, 1, health.Reconnects)
}

func TestSubscribeLiveStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	defer close(release)
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.SubscribeLive(ctx, "ETHUSDT", make(chan prices.Tick, 1)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("SubscribeLive did not return after cancel")
	}
}
