package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/engine"
	"swapbook/internal/infra"
)

// Options tunes the order book.
type Options struct {
	// VerifyTimeout bounds each verifier call. Zero means no bound beyond ctx.
	VerifyTimeout time.Duration
	// MaxCASRetries is how often a fill or cancel that lost a race is retried
	// against fresh state before the Conflict is returned.
	MaxCASRetries int
}

// OrderBook is the action API of the swap book. It is safe for concurrent use;
// all shared state lives in the OrderStore.
type OrderBook struct {
	store    domain.OrderStore
	ids      domain.IDAllocator
	machine  *engine.StateMachine
	verifier domain.SwapVerifier
	events   domain.EventEmitter
	metrics  *infra.Metrics
	opts     Options
	now      func() time.Time
}

// NewOrderBook wires the book to its collaborators.
func NewOrderBook(
	store domain.OrderStore,
	ids domain.IDAllocator,
	machine *engine.StateMachine,
	verifier domain.SwapVerifier,
	events domain.EventEmitter,
	metrics *infra.Metrics,
	opts Options,
) *OrderBook {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	if opts.MaxCASRetries < 0 {
		opts.MaxCASRetries = 0
	}
	return &OrderBook{
		store:    store,
		ids:      ids,
		machine:  machine,
		verifier: verifier,
		events:   events,
		metrics:  metrics,
		opts:     opts,
		now:      time.Now,
	}
}

func (b *OrderBook) notify(id domain.OrderID, oldStatus, newStatus domain.Status, actor domain.Actor) {
	if b.events != nil {
		b.events.Notify(id, oldStatus, newStatus, actor)
	}
}

// fail records a rejected operation and returns err unchanged.
func (b *OrderBook) fail(op string, id domain.OrderID, err error) error {
	b.metrics.RecordError(err)
	kind, _ := domain.KindOf(err)
	attrs := []any{
		slog.String("op", op),
		slog.Uint64("order_id", uint64(id)),
		slog.Any("error", err),
	}
	switch kind {
	case domain.KindVerificationPending, domain.KindConflict, domain.KindNotFound:
		slog.Debug("Order operation deferred", attrs...)
	case domain.KindVerificationFailed:
		slog.Warn("❌ Verification failed", attrs...)
	default:
		slog.Info("Order operation rejected", attrs...)
	}
	return err
}

// retryStale reruns fn while it loses compare-and-swap races.
func (b *OrderBook) retryStale(fn func() (domain.Order, error)) (domain.Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := fn()
		if err == nil || !errors.Is(err, domain.ErrStaleStatus) || attempt >= b.opts.MaxCASRetries {
			return o, err
		}
	}
}

// CreateOrder opens a new order in status Created and returns its id.
func (b *OrderBook) CreateOrder(ctx context.Context, creator domain.Actor, initiatorAmount, followerAmount uint64, from, to domain.Chain) (domain.OrderID, error) {
	const op = "create_order"
	if err := b.machine.CheckCreate(creator, initiatorAmount, followerAmount, from, to); err != nil {
		return 0, b.fail(op, 0, err)
	}
	id, err := b.ids.Next()
	if err != nil {
		slog.Error("🚨 Order id allocator exhausted")
		return 0, b.fail(op, 0, err)
	}

	order := domain.NewOrder(id, creator, initiatorAmount, followerAmount, from, to, b.now())
	if _, err := b.store.InsertNew(ctx, order); err != nil {
		return 0, b.fail(op, id, err)
	}

	b.metrics.RecordOrderCreated()
	b.notify(id, domain.StatusCreated, domain.StatusCreated, creator)
	slog.Info("🆕 Order created",
		slog.Uint64("order_id", uint64(id)),
		slog.String("creator", string(creator)),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return id, nil
}

// FillOrder takes the counterparty side of an open order. Exactly one of
// several concurrent fillers succeeds; the others see OrderAlreadyFilled.
func (b *OrderBook) FillOrder(ctx context.Context, id domain.OrderID, filler domain.Actor) (domain.Order, error) {
	const op = "fill_order"
	filled, err := b.retryStale(func() (domain.Order, error) {
		cur, err := b.store.Get(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if err := b.machine.CheckFill(&cur, filler); err != nil {
			return domain.Order{}, err
		}
		return b.store.Update(ctx, id, cur.Status, func(o *domain.Order) error {
			if err := b.machine.CheckFill(o, filler); err != nil {
				return err
			}
			*o = b.machine.ApplyFill(*o, filler)
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, b.fail(op, id, err)
	}

	b.metrics.RecordOrderFilled()
	b.metrics.RecordTransition(filled.Status)
	b.notify(id, domain.StatusCreated, filled.Status, filler)
	slog.Info("🤝 Order filled", slog.Uint64("order_id", uint64(id)), slog.String("filler", string(filler)))
	return filled, nil
}

// CancelOrder removes an unfilled order. Only its creator may cancel it and
// the id is never reused.
func (b *OrderBook) CancelOrder(ctx context.Context, id domain.OrderID, caller domain.Actor) error {
	const op = "cancel_order"
	_, err := b.retryStale(func() (domain.Order, error) {
		cur, err := b.store.Get(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if err := b.machine.CheckCancel(&cur, caller); err != nil {
			return domain.Order{}, err
		}
		return cur, b.store.Remove(ctx, id, cur.Status)
	})
	if err != nil {
		return b.fail(op, id, err)
	}

	b.metrics.RecordOrderCancelled()
	b.notify(id, domain.StatusCreated, domain.StatusFailedSoft, caller)
	slog.Info("🗑️ Order cancelled", slog.Uint64("order_id", uint64(id)), slog.String("caller", string(caller)))
	return nil
}

// Advance moves an order one step along the swap. The verifier is consulted
// without any lock held; the commit is guarded by the status observed before
// verification, so a concurrent transition turns into a Conflict.
func (b *OrderBook) Advance(ctx context.Context, id domain.OrderID, action domain.Action, proof domain.ProofContext) (domain.Order, error) {
	op := "advance(" + action.String() + ")"

	cur, err := b.store.Get(ctx, id)
	if err != nil {
		return domain.Order{}, b.fail(op, id, err)
	}
	step, err := b.machine.Precheck(&cur, action, proof)
	if err != nil {
		return domain.Order{}, b.fail(op, id, err)
	}

	start := time.Now()
	out, err := engine.Verify(ctx, b.verifier, &cur, step, b.opts.VerifyTimeout)
	if step.Check != engine.CheckNone {
		b.metrics.RecordVerify(time.Since(start))
	}
	if err != nil {
		return domain.Order{}, b.fail(op, id, err)
	}
	if _, err := b.machine.Apply(cur, step, out); err != nil {
		return domain.Order{}, b.fail(op, id, err)
	}

	next, err := b.store.Update(ctx, id, step.From, func(o *domain.Order) error {
		applied, err := b.machine.Apply(*o, step, out)
		if err != nil {
			return err
		}
		*o = applied
		return nil
	})
	if err != nil {
		return domain.Order{}, b.fail(op, id, err)
	}

	b.metrics.RecordTransition(next.Status)
	b.notify(id, step.From, next.Status, proof.Actor)
	slog.Info("✅ Order advanced",
		slog.Uint64("order_id", uint64(id)),
		slog.String("action", action.String()),
		slog.String("from", step.From.String()),
		slog.String("to", next.Status.String()))
	return next, nil
}

// GetOrder returns the current record of an order.
func (b *OrderBook) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	return b.store.Get(ctx, id)
}

// ListOrders returns orders matching filter in ascending id order.
func (b *OrderBook) ListOrders(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	return b.store.List(ctx, filter)
}
