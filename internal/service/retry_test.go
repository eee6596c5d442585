package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"swapbook/internal/domain"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func TestRetrier_RetriesUntilObserved(t *testing.T) {
	f := newMemoryFixture(t)
	id := f.filled(t)
	f.chain.FailNext(errors.New("node syncing"), 2)
	f.chain.Lock(domain.ChainBitcoin, hash, 100, 100)

	o, err := NewRetrier(f.book, fastRetry()).Advance(context.Background(), id, domain.ActionInitiatorLock, initiatorLock(100))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if o.Status != domain.StatusInitiatorLocked {
		t.Errorf("Expected INITIATOR_LOCKED, got %s", o.Status)
	}
	if got := f.metrics.Snapshot().VerificationsPending; got != 2 {
		t.Errorf("Expected 2 pending attempts, got %d", got)
	}
}

func TestRetrier_StopsOnPermanentError(t *testing.T) {
	f := newMemoryFixture(t)
	id := f.filled(t)

	start := time.Now()
	_, err := NewRetrier(f.book, fastRetry()).Advance(context.Background(), id, domain.ActionInitiatorLock,
		domain.ProofContext{Actor: "B", SecretHash: hash, Deadline: 100})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("permanent error should not be retried")
	}
	if got := f.metrics.Snapshot().ErrorsTotal; got != 1 {
		t.Errorf("Expected a single attempt, got %d errors", got)
	}
}

func TestRetrier_GivesUp(t *testing.T) {
	f := newMemoryFixture(t)
	id := f.filled(t)

	cfg := fastRetry()
	cfg.MaxElapsedTime = 20 * time.Millisecond
	_, err := NewRetrier(f.book, cfg).Advance(context.Background(), id, domain.ActionInitiatorLock, initiatorLock(100))
	if !errors.Is(err, domain.ErrVerificationPending) {
		t.Fatalf("Expected ErrVerificationPending after giving up, got %v", err)
	}
	if s := f.status(t, id); s != domain.StatusFilled {
		t.Errorf("Expected status FILLED, got %s", s)
	}
}
