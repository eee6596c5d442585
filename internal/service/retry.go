package service

import (
	"context"
	"log/slog"
	"time"

	"swapbook/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig shapes the exponential backoff used by Retrier.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// Retrier drives Advance until the chain catches up. Only retriable
// failures (VerificationPending, Conflict) are retried.
type Retrier struct {
	book *OrderBook
	cfg  RetryConfig
}

// NewRetrier wraps book with backoff for Advance.
func NewRetrier(book *OrderBook, cfg RetryConfig) *Retrier {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Retrier{book: book, cfg: cfg}
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// Advance calls OrderBook.Advance until it succeeds or fails permanently.
// When the backoff gives up the last error is returned; a zero
// MaxElapsedTime retries until ctx is done.
func (r *Retrier) Advance(ctx context.Context, id domain.OrderID, action domain.Action, proof domain.ProofContext) (domain.Order, error) {
	var result domain.Order
	operation := func() error {
		o, err := r.book.Advance(ctx, id, action, proof)
		if err == nil {
			result = o
			return nil
		}
		if !domain.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("⏳ Advance not ready, retrying",
			slog.Uint64("order_id", uint64(id)),
			slog.String("action", action.String()),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}

	if err := backoff.RetryNotify(operation, r.policy(ctx), notify); err != nil {
		return domain.Order{}, err
	}
	return result, nil
}
