package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"swapbook/internal/domain"
)

func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// forEachStore runs fn against every OrderStore implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s domain.OrderStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestDB(t)) })
}

func newOrder(id domain.OrderID, creator domain.Actor) domain.Order {
	return domain.NewOrder(id, creator, 100_000, 2_000_000, domain.ChainBitcoin, domain.ChainEthereum, time.Unix(1700000000, 0).UTC())
}

func fill(filler domain.Actor) func(*domain.Order) error {
	return func(o *domain.Order) error {
		o.Filler = filler
		o.Status = domain.StatusFilled
		return nil
	}
}

func TestInsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()

		id, err := s.InsertNew(ctx, newOrder(3, "alice"))
		if err != nil {
			t.Fatalf("InsertNew failed: %v", err)
		}
		if id != 3 {
			t.Errorf("Expected id 3, got %d", id)
		}

		got, err := s.Get(ctx, 3)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Creator != "alice" || got.Status != domain.StatusCreated {
			t.Errorf("unexpected order %+v", got)
		}
		if got.Follower.Amount != 2_000_000 || got.Follower.Chain != domain.ChainEthereum {
			t.Errorf("follower leg not round-tripped: %+v", got.Follower)
		}

		_, err = s.Get(ctx, 99)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		_, err = s.InsertNew(ctx, newOrder(3, "carol"))
		if !errors.Is(err, domain.ErrDuplicateID) {
			t.Errorf("Expected ErrDuplicateID, got %v", err)
		}
	})
}

func TestUpdateGuardsStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()
		if _, err := s.InsertNew(ctx, newOrder(0, "alice")); err != nil {
			t.Fatal(err)
		}

		updated, err := s.Update(ctx, 0, domain.StatusCreated, fill("bob"))
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Filler != "bob" || updated.Status != domain.StatusFilled {
			t.Errorf("unexpected update result %+v", updated)
		}

		// Same expectation again: the stored status moved on.
		_, err = s.Update(ctx, 0, domain.StatusCreated, fill("carol"))
		if !errors.Is(err, domain.ErrConflict) || !errors.Is(err, domain.ErrStaleStatus) {
			t.Errorf("Expected stale-status conflict, got %v", err)
		}

		got, _ := s.Get(ctx, 0)
		if got.Filler != "bob" {
			t.Errorf("filler overwritten: %q", got.Filler)
		}
	})
}

func TestUpdateRejectsIllegalSuccessor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()
		if _, err := s.InsertNew(ctx, newOrder(0, "alice")); err != nil {
			t.Fatal(err)
		}

		_, err := s.Update(ctx, 0, domain.StatusCreated, func(o *domain.Order) error {
			o.Status = domain.StatusExecuted
			o.Filler = "bob"
			return nil
		})
		if !errors.Is(err, domain.ErrInvariantViolated) {
			t.Errorf("Expected ErrInvariantViolated, got %v", err)
		}

		mutateErr := errors.New("boom")
		if _, err := s.Update(ctx, 0, domain.StatusCreated, func(*domain.Order) error { return mutateErr }); !errors.Is(err, mutateErr) {
			t.Errorf("Expected mutate error to propagate, got %v", err)
		}

		got, _ := s.Get(ctx, 0)
		if got.Status != domain.StatusCreated {
			t.Errorf("rejected update was stored: %s", got.Status)
		}
	})
}

func TestRemoveRetiresID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()
		if _, err := s.InsertNew(ctx, newOrder(5, "alice")); err != nil {
			t.Fatal(err)
		}

		if err := s.Remove(ctx, 5, domain.StatusFilled); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("Expected conflict for wrong status, got %v", err)
		}
		if err := s.Remove(ctx, 5, domain.StatusCreated); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}

		_, err := s.Get(ctx, 5)
		if !errors.Is(err, domain.ErrNotFound) || !errors.Is(err, domain.ErrOrderRetired) {
			t.Errorf("Expected retired not-found, got %v", err)
		}
		retired, err := s.IsRetired(ctx, 5)
		if err != nil || !retired {
			t.Errorf("Expected id 5 retired, got %v (%v)", retired, err)
		}
		if _, err := s.InsertNew(ctx, newOrder(5, "alice")); !errors.Is(err, domain.ErrOrderRetired) {
			t.Errorf("Expected retired id to be rejected, got %v", err)
		}

		hw, ok, err := s.HighWatermark(ctx)
		if err != nil || !ok || hw != 5 {
			t.Errorf("Expected high watermark 5, got %d %v %v", hw, ok, err)
		}
	})
}

func TestHugeIDsAreNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()
		for _, id := range []domain.OrderID{1 << 63, math.MaxUint64} {
			_, err := s.Get(ctx, id)
			if kind, _ := domain.KindOf(err); kind != domain.KindNotFound || domain.IsRetriable(err) {
				t.Errorf("Get(%d): expected non-retriable NotFound, got %v", uint64(id), err)
			}
			_, err = s.Update(ctx, id, domain.StatusCreated, fill("bob"))
			if !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("Update(%d): expected NotFound, got %v", uint64(id), err)
			}
			if err := s.Remove(ctx, id, domain.StatusCreated); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("Remove(%d): expected NotFound, got %v", uint64(id), err)
			}
			if retired, err := s.IsRetired(ctx, id); err != nil || retired {
				t.Errorf("IsRetired(%d): expected false, got %v (%v)", uint64(id), retired, err)
			}
			after := id
			if got, err := s.List(ctx, domain.ListFilter{AfterID: &after}); err != nil || len(got) != 0 {
				t.Errorf("List after %d: expected empty, got %d (%v)", uint64(id), len(got), err)
			}
		}
	})
}

func TestList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()
		for i := domain.OrderID(0); i < 6; i++ {
			creator := domain.Actor("alice")
			if i%2 == 1 {
				creator = "bob"
			}
			if _, err := s.InsertNew(ctx, newOrder(i, creator)); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := s.Update(ctx, 4, domain.StatusCreated, fill("carol")); err != nil {
			t.Fatal(err)
		}

		all, err := s.List(ctx, domain.ListFilter{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(all) != 6 {
			t.Fatalf("Expected 6 orders, got %d", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i-1].ID >= all[i].ID {
				t.Fatalf("List not sorted by id: %d before %d", all[i-1].ID, all[i].ID)
			}
		}

		open, _ := s.List(ctx, domain.ListFilter{Status: domain.StatusCreated, Creator: "alice"})
		if len(open) != 2 {
			t.Errorf("Expected 2 open orders by alice, got %d", len(open))
		}

		after := domain.OrderID(1)
		page, _ := s.List(ctx, domain.ListFilter{AfterID: &after, Limit: 2})
		if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
			t.Errorf("unexpected page %+v", page)
		}
	})
}

func TestConcurrentFillSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.OrderStore) {
		ctx := context.Background()
		if _, err := s.InsertNew(ctx, newOrder(0, "alice")); err != nil {
			t.Fatal(err)
		}

		const fillers = 8
		var (
			wins      atomic.Int32
			conflicts atomic.Int32
			wg        sync.WaitGroup
		)
		for i := 0; i < fillers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := s.Update(ctx, 0, domain.StatusCreated, fill(domain.Actor(fmt.Sprintf("filler-%d", n))))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if wins.Load() != 1 {
			t.Errorf("Expected exactly one winner, got %d", wins.Load())
		}
		if conflicts.Load() != fillers-1 {
			t.Errorf("Expected %d conflicts, got %d", fillers-1, conflicts.Load())
		}
	})
}

func TestSQLiteReopenKeepsWatermark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertNew(ctx, newOrder(41, "alice")); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, 41, domain.StatusCreated); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	hw, ok, err := reopened.HighWatermark(ctx)
	if err != nil || !ok || hw != 41 {
		t.Errorf("Expected watermark 41 from retired ids, got %d %v %v", hw, ok, err)
	}
}
