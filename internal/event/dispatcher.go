package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/infra"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DispatcherConfig tunes buffering and sink retries.
type DispatcherConfig struct {
	Buffer         int
	MaxRetries     uint64
	InitialBackoff time.Duration
	DrainTimeout   time.Duration
}

// Dispatcher implements domain.EventEmitter. Notify enqueues into a buffered
// inbox; a single Run goroutine fans events out to the sinks in order.
type Dispatcher struct {
	inbox   chan StatusChanged
	sinks   []Sink
	cfg     DispatcherConfig
	metrics *infra.Metrics
	now     func() time.Time
	done    chan struct{}
}

// NewDispatcher creates a dispatcher. Run must be started for events to flow.
func NewDispatcher(cfg DispatcherConfig, metrics *infra.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Dispatcher{
		inbox:   make(chan StatusChanged, cfg.Buffer),
		sinks:   sinks,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Notify implements domain.EventEmitter. It never blocks: when the inbox is
// full the event is dropped and counted.
func (d *Dispatcher) Notify(id domain.OrderID, oldStatus, newStatus domain.Status, actor domain.Actor) {
	ev := StatusChanged{
		EventID:   uuid.New(),
		OrderID:   id,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Actor:     actor,
		At:        d.now(),
	}
	select {
	case d.inbox <- ev:
	default:
		d.metrics.RecordEventDropped()
		slog.Warn("⚠️ Event inbox full, dropping event",
			slog.Uint64("order_id", uint64(id)),
			slog.String("new_status", newStatus.String()))
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Run delivers events until ctx is cancelled, then drains what is already
// queued within DrainTimeout.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Event dispatcher started", slog.Int("sinks", len(d.sinks)))
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			slog.Info("Event dispatcher stopped")
			return
		case ev := <-d.inbox:
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.inbox:
			d.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev StatusChanged) {
	delivered := true
	for _, sink := range d.sinks {
		if err := d.deliver(ctx, sink, ev); err != nil {
			delivered = false
			slog.Error("Event delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("event_id", ev.EventID.String()),
				slog.Any("error", err))
		}
	}
	if delivered {
		d.metrics.RecordEventDelivered()
	} else {
		d.metrics.RecordEventDropped()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, ev StatusChanged) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.cfg.MaxRetries), ctx)

	return backoff.Retry(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("CRITICAL_PANIC_DETECTED", slog.String("sink", sink.Name()), slog.Any("panic", r))
				err = backoff.Permanent(fmt.Errorf("sink %s panicked: %v", sink.Name(), r))
			}
		}()
		return sink.Deliver(ctx, ev)
	}, policy)
}
