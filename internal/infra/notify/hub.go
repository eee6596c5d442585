// Package notify pushes order events to WebSocket subscribers.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/event"
	"swapbook/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	clientBuffer = 64

	messageStatusChanged = "status_changed"
)

// ErrHubBusy is returned by Deliver when the broadcast queue is full.
var ErrHubBusy = errors.New("notify: broadcast queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the JSON frame sent to subscribers.
type Message struct {
	Type string              `json:"type"`
	Data event.StatusChanged `json:"data"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	orderID *domain.OrderID // nil subscribes to every order
}

// Hub fans status changes out to connected WebSocket clients. It is an
// event.Sink; the client set is owned by the Run goroutine.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	count      atomic.Int32
	metrics    *infra.Metrics
	done       chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(metrics *infra.Metrics) *Hub {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		metrics:    metrics,
		done:       make(chan struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.metrics.IncrementConnections()
			slog.Info("🔌 WebSocket client connected", slog.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				slog.Info("🔌 WebSocket client disconnected", slog.Int("total", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.orderID != nil && *c.orderID != msg.Data.OrderID {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// Slow consumer
					slog.Warn("⚠️ WebSocket client too slow, disconnecting")
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	h.metrics.DecrementConnections()
}

// Name implements event.Sink.
func (h *Hub) Name() string { return "websocket" }

// Deliver implements event.Sink. A full queue is reported so the
// dispatcher can retry.
func (h *Hub) Deliver(ctx context.Context, ev event.StatusChanged) error {
	select {
	case h.broadcast <- Message{Type: messageStatusChanged, Data: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrHubBusy
	}
}

// ServeHTTP upgrades the request to a WebSocket subscription. The optional
// order_id query parameter narrows the feed to one order.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter *domain.OrderID
	if raw := r.URL.Query().Get("order_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid order_id", http.StatusBadRequest)
			return
		}
		id := domain.OrderID(n)
		filter = &id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan Message, clientBuffer), orderID: filter}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only watches for pongs and the close frame; clients send nothing else.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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
