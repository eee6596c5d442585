package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("confirm_lock", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "confirm_lock: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "confirm_lock: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal error", func(t *testing.T) {
		err := NewFatalNetworkError("auth", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("dial", baseErr)
		fatal := NewFatalNetworkError("auth", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(retriable) {
			t.Error("IsRetriable should return true for retriable error")
		}

		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "storage.path", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [storage.path]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestOrderError(t *testing.T) {
	t.Run("message names the violated precondition", func(t *testing.T) {
		err := NewOrderError(KindConflict, 0, "fill_order", ErrOrderAlreadyFilled)
		want := "order 0: fill_order: order already filled"
		if err.Error() != want {
			t.Errorf("Error message = %q, want %q", err.Error(), want)
		}
	})

	t.Run("matches kind and reason", func(t *testing.T) {
		var err error = NewOrderError(KindConflict, 7, "fill_order", ErrOrderAlreadyFilled)
		wrapped := fmt.Errorf("api: %w", err)

		if !errors.Is(wrapped, ErrConflict) {
			t.Error("expected kind sentinel to match")
		}
		if !errors.Is(wrapped, ErrOrderAlreadyFilled) {
			t.Error("expected reason sentinel to match")
		}
		if errors.Is(wrapped, ErrNotFound) {
			t.Error("unexpected match on other kind")
		}
		if kind, ok := KindOf(wrapped); !ok || kind != KindConflict {
			t.Errorf("KindOf = %v, %v", kind, ok)
		}
	})

	t.Run("cause is exposed", func(t *testing.T) {
		err := &OrderError{
			Kind:   KindVerificationPending,
			Op:     "advance(initiator_lock)",
			Reason: ErrNotObserved,
			Err:    context.DeadlineExceeded,
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Error("expected cause to match")
		}
		if !IsRetriable(err) {
			t.Error("pending verification should be retriable")
		}
	})

	t.Run("failed verification is final", func(t *testing.T) {
		err := NewOrderError(KindVerificationFailed, 1, "advance(follower_lock)", ErrDeadlineExpired)
		if IsRetriable(err) {
			t.Error("failed verification must not be retriable")
		}
	})
}
