package engine

import (
	"errors"
	"math"
	"sync"
	"testing"

	"swapbook/internal/domain"
)

func TestAllocator_Sequential(t *testing.T) {
	a := NewAllocator(0)
	for want := domain.OrderID(0); want < 5; want++ {
		got, err := a.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected id %d, got %d", want, got)
		}
	}
}

func TestAllocator_ConcurrentUnique(t *testing.T) {
	a := NewAllocator(0)
	const workers, perWorker = 16, 500

	var (
		mu   sync.Mutex
		seen = make(map[domain.OrderID]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]domain.OrderID, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id, err := a.Next()
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				local = append(local, id)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("Expected %d ids, got %d", workers*perWorker, len(seen))
	}
}

func TestAllocator_ExhaustionIsSticky(t *testing.T) {
	a := NewAllocator(math.MaxUint64 - 1)

	id, err := a.Next()
	if err != nil {
		t.Fatalf("last id should still be issued: %v", err)
	}
	if id != math.MaxUint64-1 {
		t.Errorf("Expected id %d, got %d", uint64(math.MaxUint64-1), id)
	}

	for i := 0; i < 3; i++ {
		_, err := a.Next()
		if !errors.Is(err, domain.ErrAllocatorExhausted) {
			t.Fatalf("Expected ErrAllocatorExhausted, got %v", err)
		}
	}
	if !a.Exhausted() {
		t.Error("allocator should report exhaustion")
	}
}
