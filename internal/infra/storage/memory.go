package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"swapbook/internal/domain"
)

const shardCount = 64

type shard struct {
	mu      sync.RWMutex
	orders  map[domain.OrderID]domain.Order
	retired map[domain.OrderID]struct{}
}

// Memory is an in-process OrderStore. Orders are spread over shards so
// readers of different orders never contend and writers of one order are
// serialized by its shard lock.
type Memory struct {
	shards [shardCount]shard
	now    func() time.Time

	hwMu   sync.Mutex
	hw     domain.OrderID
	hwSeen bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{now: time.Now}
	for i := range m.shards {
		m.shards[i].orders = make(map[domain.OrderID]domain.Order)
		m.shards[i].retired = make(map[domain.OrderID]struct{})
	}
	return m
}

func (m *Memory) shardFor(id domain.OrderID) *shard {
	return &m.shards[uint64(id)%shardCount]
}

func (m *Memory) observe(id domain.OrderID) {
	m.hwMu.Lock()
	defer m.hwMu.Unlock()
	if !m.hwSeen || id > m.hw {
		m.hw = id
		m.hwSeen = true
	}
}

func notFound(s *shard, id domain.OrderID, op string) error {
	if _, ok := s.retired[id]; ok {
		return domain.NewOrderError(domain.KindNotFound, id, op, domain.ErrOrderRetired)
	}
	return domain.NewOrderError(domain.KindNotFound, id, op, nil)
}

// Get implements domain.OrderStore.
func (m *Memory) Get(_ context.Context, id domain.OrderID) (domain.Order, error) {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, notFound(s, id, "get_order")
	}
	return o, nil
}

// InsertNew implements domain.OrderStore.
func (m *Memory) InsertNew(_ context.Context, order domain.Order) (domain.OrderID, error) {
	if err := order.VerifyInvariants(); err != nil {
		return 0, &domain.OrderError{Kind: domain.KindInvalidOrder, OrderID: order.ID, Op: "create_order", Reason: domain.ErrInvariantViolated, Err: err}
	}
	s := m.shardFor(order.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.retired[order.ID]; ok {
		return 0, domain.NewOrderError(domain.KindConflict, order.ID, "create_order", domain.ErrOrderRetired)
	}
	if _, ok := s.orders[order.ID]; ok {
		return 0, domain.NewOrderError(domain.KindConflict, order.ID, "create_order", domain.ErrDuplicateID)
	}
	s.orders[order.ID] = order
	m.observe(order.ID)
	return order.ID, nil
}

// Update implements domain.OrderStore.
func (m *Memory) Update(_ context.Context, id domain.OrderID, expected domain.Status, mutate func(*domain.Order) error) (domain.Order, error) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[id]
	if !ok {
		return domain.Order{}, notFound(s, id, "update_order")
	}
	if prev.Status != expected {
		return prev, domain.NewOrderError(domain.KindConflict, id, "update_order", domain.ErrStaleStatus)
	}

	next := prev
	if err := mutate(&next); err != nil {
		return prev, err
	}
	next.UpdatedAt = m.now()
	if err := domain.VerifySuccessor(&prev, &next); err != nil {
		return prev, &domain.OrderError{Kind: domain.KindInvalidTransition, OrderID: id, Op: "update_order", Reason: domain.ErrInvariantViolated, Err: err}
	}
	s.orders[id] = next
	return next, nil
}

// Remove implements domain.OrderStore.
func (m *Memory) Remove(_ context.Context, id domain.OrderID, expected domain.Status) error {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return notFound(s, id, "remove_order")
	}
	if o.Status != expected {
		return domain.NewOrderError(domain.KindConflict, id, "remove_order", domain.ErrStaleStatus)
	}
	delete(s.orders, id)
	s.retired[id] = struct{}{}
	return nil
}

// IsRetired implements domain.OrderStore.
func (m *Memory) IsRetired(_ context.Context, id domain.OrderID) (bool, error) {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.retired[id]
	return ok, nil
}

// List implements domain.OrderStore. Results are sorted by id.
func (m *Memory) List(_ context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	var out []domain.Order
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for _, o := range s.orders {
			if filter.Matches(&o) {
				out = append(out, o)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// HighWatermark implements domain.OrderStore.
func (m *Memory) HighWatermark(_ context.Context) (domain.OrderID, bool, error) {
	m.hwMu.Lock()
	defer m.hwMu.Unlock()
	return m.hw, m.hwSeen, nil
}
