package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"swapbook/internal/domain"
)

// Allocator hands out order ids with an atomic increment. Ids are strictly
// increasing and never reused; running out is fatal and sticky.
type Allocator struct {
	next      atomic.Uint64
	exhausted atomic.Bool
}

// NewAllocator creates an allocator whose first id is start.
func NewAllocator(start domain.OrderID) *Allocator {
	a := &Allocator{}
	a.next.Store(uint64(start))
	return a
}

// NewAllocatorFromStore seeds the allocator past every id the store has seen,
// including retired ones.
func NewAllocatorFromStore(ctx context.Context, store domain.OrderStore) (*Allocator, error) {
	hw, ok, err := store.HighWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read id high watermark: %w", err)
	}
	if !ok {
		return NewAllocator(0), nil
	}
	a := NewAllocator(hw)
	if uint64(hw) == math.MaxUint64 {
		a.exhausted.Store(true)
		return a, nil
	}
	a.next.Store(uint64(hw) + 1)
	return a, nil
}

// Next returns the next unused id.
func (a *Allocator) Next() (domain.OrderID, error) {
	for {
		if a.exhausted.Load() {
			return 0, domain.NewOrderError(domain.KindAllocatorExhausted, 0, "create_order", nil)
		}
		cur := a.next.Load()
		if cur == math.MaxUint64 {
			a.exhausted.Store(true)
			continue
		}
		if a.next.CompareAndSwap(cur, cur+1) {
			return domain.OrderID(cur), nil
		}
	}
}

// Exhausted reports whether the allocator can no longer issue ids.
func (a *Allocator) Exhausted() bool {
	return a.exhausted.Load()
}
