package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// ConnectionCounter tracks open WebSocket connections.
type ConnectionCounter interface {
	IncrementConnections(ctx context.Context)
	DecrementConnections(ctx context.Context)
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    ConnectionCounter
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Kind      string          `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type WSSubscriptionRequest struct {
	Type    string   `json:"type"`
	Topics  []string `json:"topics"`
	Address string   `json:"address,omitempty"`
}

func NewHub(cache *store.Cache, logger *zap.SugaredLogger, metrics ConnectionCounter, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cache:      cache,
		logger:     logger,
		metrics:    metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Run relays ledger events and prices to clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	sub, err := h.cache.Subscribe(ctx, store.ChannelEvents, store.ChannelPrices)
	if err != nil {
		return err
	}
	defer sub.Close()
	messages := sub.Messages()

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll(ctx)
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}
			h.logger.Debugw("Client registered")

		case client := <-h.unregister:
			h.remove(ctx, client)

		case msg, ok := <-messages:
			if !ok {
				h.logger.Warnw("Pub/sub subscription closed; WebSocket updates stopped")
				messages = nil
				continue
			}
			h.relay(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (h *Hub) remove(ctx context.Context, client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	if ok {
		if h.metrics != nil {
			h.metrics.DecrementConnections(ctx)
		}
		h.logger.Debugw("Client unregistered")
	}
}

func (h *Hub) closeAll(ctx context.Context) {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for client := range clients {
		close(client.send)
		if h.metrics != nil {
			h.metrics.DecrementConnections(ctx)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) relay(ctx context.Context, channel string, payload []byte) {
	r, ok := route(channel, payload)
	if !ok {
		h.logger.Warnw("Dropping unroutable message", "channel", channel)
		return
	}

	now := time.Now().Unix()
	encoded := make(map[string][]byte, len(r.topics))
	for _, topic := range r.topics {
		b, err := json.Marshal(Message{Type: "update", Topic: topic, Kind: r.kind, Data: r.payload, Timestamp: now})
		if err != nil {
			h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
			return
		}
		encoded[topic] = b
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		// One copy per client, on the first matching topic
		for _, topic := range r.topics {
			if !client.isSubscribed(topic) {
				continue
			}
			select {
			case client.send <- encoded[topic]:
			default:
				slow = append(slow, client)
			}
			break
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warnw("Dropping slow WebSocket client")
		h.remove(ctx, client)
	}
}

// HandleWebSocket upgrades the request and registers the client. Initial
// topics may be given as ?topics=events,prices&address=0x...
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]bool),
	}
	client.subscribe(parseTopics(r.URL.Query().Get("topics")), r.URL.Query().Get("address"))

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var req WSSubscriptionRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch req.Type {
	case "subscribe":
		c.subscribe(req.Topics, req.Address)
		c.hub.logger.Debugw("Client subscribed to topics", "topics", req.Topics, "address", req.Address)
	case "unsubscribe":
		c.mu.Lock()
		for _, topic := range req.Topics {
			delete(c.topics, topic)
		}
		if req.Address != "" {
			delete(c.topics, AccountTopic(req.Address))
		}
		c.mu.Unlock()
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", req.Topics)
	}
}

func (c *Client) subscribe(topics []string, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.topics[topic] = true
	}
	if address != "" {
		c.topics[AccountTopic(address)] = true
	}
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}
