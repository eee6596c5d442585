package domain

import (
	"context"
)

// Verdict is the verifier's answer about an on-chain event.
type Verdict uint8

const (
	VerdictNotYet Verdict = iota
	VerdictConfirmed
	VerdictExpired  // the deadline passed before the event was observed
	VerdictRejected // the event was observed but does not match (amount, hash, address)
)

func (v Verdict) String() string {
	switch v {
	case VerdictConfirmed:
		return "CONFIRMED"
	case VerdictExpired:
		return "EXPIRED"
	case VerdictRejected:
		return "REJECTED"
	default:
		return "NOT_YET"
	}
}

// LockProof describes a confirmed lock transaction.
type LockProof struct {
	TxRef   string
	Address string
}

// RedeemProof describes a confirmed redeem transaction and the secret it revealed.
type RedeemProof struct {
	TxRef  string
	Secret []byte
}

// RefundProof describes a confirmed refund transaction.
type RefundProof struct {
	TxRef string
}

// SwapVerifier reports ground truth about chain events. Implementations must
// use chain time, not wall-clock time, and must be idempotent so callers can
// retry after transient failures.
type SwapVerifier interface {
	// ConfirmLock checks for a lock on chain referencing hash with exactly
	// amount, confirmed before deadline.
	ConfirmLock(ctx context.Context, chain Chain, hash SecretHash, amount uint64, deadline uint64) (LockProof, Verdict, error)

	// ConfirmRedeem checks for a redeem on chain revealing the preimage of hash before deadline.
	ConfirmRedeem(ctx context.Context, chain Chain, hash SecretHash, deadline uint64) (RedeemProof, Verdict, error)

	// ConfirmRefund checks for a refund on chain of the lock referencing hash
	// with the given deadline.
	ConfirmRefund(ctx context.Context, chain Chain, hash SecretHash, deadline uint64) (RefundProof, Verdict, error)

	// ConfirmElapsed reports whether chain time has strictly passed deadline.
	ConfirmElapsed(ctx context.Context, chain Chain, deadline uint64) (bool, error)
}

// EventEmitter receives one notification per accepted state change.
// Notify must not block; delivery is best effort.
type EventEmitter interface {
	Notify(id OrderID, oldStatus, newStatus Status, actor Actor)
}

// ListFilter narrows OrderStore.List.
type ListFilter struct {
	Status  Status // zero means any
	Creator Actor  // empty means any
	AfterID *OrderID
	Limit   int // zero means no limit
}

// Matches reports whether o passes the filter, ignoring paging.
func (f ListFilter) Matches(o *Order) bool {
	if f.Status != 0 && o.Status != f.Status {
		return false
	}
	if f.Creator != "" && o.Creator != f.Creator {
		return false
	}
	if f.AfterID != nil && o.ID <= *f.AfterID {
		return false
	}
	return true
}

// OrderStore is the single source of truth for order existence and state.
type OrderStore interface {
	Get(ctx context.Context, id OrderID) (Order, error)
	// InsertNew stores a new order under its preassigned id.
	InsertNew(ctx context.Context, order Order) (OrderID, error)
	// Update applies mutate to a copy of the stored order and commits it only
	// if the stored status still equals expected.
	Update(ctx context.Context, id OrderID, expected Status, mutate func(*Order) error) (Order, error)
	// Remove deletes the order if its status equals expected and retires its id.
	Remove(ctx context.Context, id OrderID, expected Status) error
	IsRetired(ctx context.Context, id OrderID) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	// HighWatermark returns the highest id ever stored or retired.
	HighWatermark(ctx context.Context) (OrderID, bool, error)
}

// IDAllocator issues unique, strictly increasing order ids.
type IDAllocator interface {
	Next() (OrderID, error)
}
