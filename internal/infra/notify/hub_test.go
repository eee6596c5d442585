package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/event"
	"swapbook/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func setupTestHub(t *testing.T) (*Hub, *infra.Metrics, string) {
	t.Helper()
	m := &infra.Metrics{}
	hub := NewHub(m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, m, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusChanged(id domain.OrderID) event.StatusChanged {
	return event.StatusChanged{
		EventID:   uuid.New(),
		OrderID:   id,
		OldStatus: domain.StatusCreated,
		NewStatus: domain.StatusFilled,
		Actor:     "bob",
		At:        time.Now().UTC(),
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub, m, url := setupTestHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	if got := m.Snapshot().ActiveConnections; got != 1 {
		t.Errorf("Expected 1 active connection, got %d", got)
	}

	ev := statusChanged(3)
	if err := hub.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != "status_changed" {
		t.Errorf("Expected type status_changed, got %s", msg.Type)
	}
	if msg.Data.EventID != ev.EventID || msg.Data.NewStatus != domain.StatusFilled {
		t.Errorf("unexpected payload %+v", msg.Data)
	}
}

func TestHub_OrderFilter(t *testing.T) {
	hub, _, url := setupTestHub(t)
	conn := dial(t, url+"?order_id=7")
	waitClients(t, hub, 1)

	hub.Deliver(context.Background(), statusChanged(1))
	hub.Deliver(context.Background(), statusChanged(7))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Data.OrderID != 7 {
		t.Errorf("Expected only order 7 events, got order %d", msg.Data.OrderID)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, m, url := setupTestHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)

	if got := m.Snapshot().ActiveConnections; got != 0 {
		t.Errorf("Expected 0 active connections, got %d", got)
	}
}

func TestHub_RejectsBadFilter(t *testing.T) {
	_, _, url := setupTestHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?order_id=abc", nil)
	if err == nil {
		t.Fatal("expected dial to fail for invalid order_id")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("Expected HTTP 400, got %v", resp)
	}
}
