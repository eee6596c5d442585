// Package event delivers order status changes to interested sinks without
// ever blocking the operation that caused them.
package event

import (
	"context"
	"log/slog"
	"time"

	"swapbook/internal/domain"

	"github.com/google/uuid"
)

// StatusChanged is emitted once per accepted state change. Delivery is at
// least once; consumers dedupe on EventID.
type StatusChanged struct {
	EventID   uuid.UUID      `json:"event_id"`
	OrderID   domain.OrderID `json:"order_id"`
	OldStatus domain.Status  `json:"old_status"`
	NewStatus domain.Status  `json:"new_status"`
	Actor     domain.Actor   `json:"actor"`
	At        time.Time      `json:"at"`
}

// Sink receives events from the Dispatcher. Deliver may be retried, so it
// must tolerate duplicates.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev StatusChanged) error
}

// LogSink writes every event to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, ev StatusChanged) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "📣 Order status changed",
		slog.String("event_id", ev.EventID.String()),
		slog.Uint64("order_id", uint64(ev.OrderID)),
		slog.String("old_status", ev.OldStatus.String()),
		slog.String("new_status", ev.NewStatus.String()),
		slog.String("actor", string(ev.Actor)),
	)
	return nil
}
