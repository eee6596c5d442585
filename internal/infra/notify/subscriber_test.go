package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/event"
)

type collected struct {
	mu     sync.Mutex
	events []event.StatusChanged
}

func (c *collected) add(ev event.StatusChanged) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestSubscriber_ReceivesFilteredFeed(t *testing.T) {
	hub, _, url := setupTestHub(t)
	got := &collected{}

	sub := NewSubscriber(url+"?order_id=5", got.add)
	sub.Connect(context.Background())
	defer sub.Close()
	waitClients(t, hub, 1)

	for _, id := range []domain.OrderID{4, 5, 6, 5} {
		if err := hub.Deliver(context.Background(), statusChanged(id)); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for got.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 events, got %d", got.len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	if len(got.events) != 2 {
		t.Fatalf("Expected exactly 2 events, got %d", len(got.events))
	}
	for _, ev := range got.events {
		if ev.OrderID != 5 {
			t.Errorf("Expected only order 5, got %d", ev.OrderID)
		}
	}
}

func TestSubscriber_RetriesUntilServerUp(t *testing.T) {
	sub := NewSubscriber("ws://127.0.0.1:1/v1/events", func(event.StatusChanged) {})
	sub.Connect(context.Background())

	done := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		sub.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the reconnect loop")
	}
}

func TestSubscriber_CloseDisconnects(t *testing.T) {
	hub, _, url := setupTestHub(t)
	sub := NewSubscriber(url, func(event.StatusChanged) {})
	sub.Connect(context.Background())
	waitClients(t, hub, 1)

	sub.Close()
	waitClients(t, hub, 0)
}
