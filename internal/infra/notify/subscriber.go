package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"swapbook/internal/event"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const readTimeout = 2 * pongWait

// Subscriber follows a hub's event feed over WebSocket, reconnecting with
// exponential backoff until Close is called.
type Subscriber struct {
	url        string
	handle     func(event.StatusChanged)
	dialer     websocket.Dialer
	mu         sync.Mutex
	conn       *websocket.Conn
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	newBackoff func() backoff.BackOff
}

// NewSubscriber creates a subscriber for url (ws://host/v1/events[?order_id=N]).
// handle is called from a single goroutine in feed order.
func NewSubscriber(url string, handle func(event.StatusChanged)) *Subscriber {
	return &Subscriber{
		url:    url,
		handle: handle,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Connect starts the connection loop in the background.
func (s *Subscriber) Connect(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

func (s *Subscriber) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retry := backoff.WithContext(s.newBackoff(), ctx)
	for {
		if err := s.connect(ctx); err != nil {
			delay := retry.NextBackOff()
			slog.Warn("Event feed connection failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			if delay == backoff.Stop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}
		retry.Reset()
		s.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Subscriber) connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	// Answer the hub's pings and keep the read deadline moving.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	slog.Info("📡 Event feed connected", slog.String("url", s.url))
	return nil
}

func (s *Subscriber) readLoop(ctx context.Context) {
	defer s.closeConnection()
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil || ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("Event feed read failed", slog.Any("error", err))
			}
			return
		}
		var msg Message
		if json.Unmarshal(raw, &msg) != nil || msg.Type != messageStatusChanged {
			continue
		}
		s.handle(msg.Data)
	}
}

func (s *Subscriber) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close stops the connection loop and waits for it to exit.
func (s *Subscriber) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
