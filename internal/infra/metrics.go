package infra

import (
	"sync/atomic"
	"time"

	"swapbook/internal/domain"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersCreated   atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersCancelled atomic.Uint64
	transitions     [domain.StatusFailedHard + 1]atomic.Uint64
	conflicts       atomic.Uint64
	pending         atomic.Uint64
	rejected        atomic.Uint64
	errorsTotal     atomic.Uint64
	eventsDelivered atomic.Uint64
	eventsDropped   atomic.Uint64

	// Verifier latency tracking
	verifySumNs atomic.Int64
	verifyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// RecordOrderCreated records a new order.
func (m *Metrics) RecordOrderCreated() {
	m.ordersCreated.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderCancelled records a cancelled order.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordTransition records an accepted move into status.
func (m *Metrics) RecordTransition(status domain.Status) {
	if status.Valid() {
		m.transitions[status].Add(1)
	}
}

// RecordVerify records one verifier round trip.
func (m *Metrics) RecordVerify(latency time.Duration) {
	m.verifySumNs.Add(latency.Nanoseconds())
	m.verifyCount.Add(1)
}

// RecordError classifies a failed operation by its kind.
func (m *Metrics) RecordError(err error) {
	m.errorsTotal.Add(1)
	kind, _ := domain.KindOf(err)
	switch kind {
	case domain.KindConflict:
		m.conflicts.Add(1)
	case domain.KindVerificationPending:
		m.pending.Add(1)
	case domain.KindVerificationFailed:
		m.rejected.Add(1)
	}
}

// RecordEventDelivered records an event handed to every sink.
func (m *Metrics) RecordEventDelivered() {
	m.eventsDelivered.Add(1)
}

// RecordEventDropped records an event lost to a full inbox or failing sink.
func (m *Metrics) RecordEventDropped() {
	m.eventsDropped.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersCreated        uint64            `json:"orders_created"`
	OrdersFilled         uint64            `json:"orders_filled"`
	OrdersCancelled      uint64            `json:"orders_cancelled"`
	Transitions          map[string]uint64 `json:"transitions"`
	Conflicts            uint64            `json:"conflicts"`
	VerificationsPending uint64            `json:"verifications_pending"`
	VerificationsFailed  uint64            `json:"verifications_failed"`
	ErrorsTotal          uint64            `json:"errors_total"`
	EventsDelivered      uint64            `json:"events_delivered"`
	EventsDropped        uint64            `json:"events_dropped"`
	AvgVerifyLatencyNs   int64             `json:"avg_verify_latency_ns"`
	ActiveConnections    int32             `json:"active_connections"`
	Timestamp            time.Time         `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.verifyCount.Load()
	if count > 0 {
		avgLatency = m.verifySumNs.Load() / int64(count)
	}

	transitions := make(map[string]uint64)
	for s := domain.StatusCreated; s <= domain.StatusFailedHard; s++ {
		if n := m.transitions[s].Load(); n > 0 {
			transitions[s.String()] = n
		}
	}

	return MetricsSnapshot{
		OrdersCreated:        m.ordersCreated.Load(),
		OrdersFilled:         m.ordersFilled.Load(),
		OrdersCancelled:      m.ordersCancelled.Load(),
		Transitions:          transitions,
		Conflicts:            m.conflicts.Load(),
		VerificationsPending: m.pending.Load(),
		VerificationsFailed:  m.rejected.Load(),
		ErrorsTotal:          m.errorsTotal.Load(),
		EventsDelivered:      m.eventsDelivered.Load(),
		EventsDropped:        m.eventsDropped.Load(),
		AvgVerifyLatencyNs:   avgLatency,
		ActiveConnections:    m.activeConnections.Load(),
		Timestamp:            time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersCreated.Store(0)
	m.ordersFilled.Store(0)
	m.ordersCancelled.Store(0)
	for i := range m.transitions {
		m.transitions[i].Store(0)
	}
	m.conflicts.Store(0)
	m.pending.Store(0)
	m.rejected.Store(0)
	m.errorsTotal.Store(0)
	m.eventsDelivered.Store(0)
	m.eventsDropped.Store(0)
	m.verifySumNs.Store(0)
	m.verifyCount.Store(0)
	m.activeConnections.Store(0)
}
