package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// OrderID uniquely identifies an order. Ids are never reused.
type OrderID uint64

// Actor is the identity of a party (account or public key string).
type Actor string

// SecretHash is the commitment binding both legs of a swap.
type SecretHash [32]byte

// IsZero reports whether no commitment has been set.
func (h SecretHash) IsZero() bool {
	return h == SecretHash{}
}

// Matches reports whether secret is the preimage of h.
func (h SecretHash) Matches(secret []byte) bool {
	sum := sha256.Sum256(secret)
	return bytes.Equal(sum[:], h[:])
}

// String returns the hex encoding, or "" for the zero hash.
func (h SecretHash) String() string {
	if h.IsZero() {
		return ""
	}
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as hex.
func (h SecretHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash. An empty string yields the zero hash.
func (h *SecretHash) UnmarshalText(b []byte) error {
	parsed, err := ParseSecretHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseSecretHash decodes a 32-byte hex digest.
func ParseSecretHash(s string) (SecretHash, error) {
	var h SecretHash
	if s == "" {
		return h, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("secret hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("secret hash: want %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// HashSecret returns the commitment for a secret.
func HashSecret(secret []byte) SecretHash {
	return SecretHash(sha256.Sum256(secret))
}

// SwapLeg is one party's locked-fund contract on one chain.
type SwapLeg struct {
	Amount   uint64 `json:"amount"`
	Address  string `json:"address,omitempty"`
	Chain    Chain  `json:"chain"`
	Deadline uint64 `json:"deadline,omitempty"` // chain-native timelock, set with the lock
	InitTx   string `json:"init_tx,omitempty"`
	RedeemTx string `json:"redeem_tx,omitempty"`
	RefundTx string `json:"refund_tx,omitempty"`
}

// Locked reports whether the lock of this leg has been confirmed.
func (l SwapLeg) Locked() bool {
	return l.InitTx != ""
}

// Order is the aggregate root of the book.
type Order struct {
	ID         OrderID    `json:"id"`
	Creator    Actor      `json:"creator"`
	Filler     Actor      `json:"filler,omitempty"`
	Initiator  SwapLeg    `json:"initiator_leg"`
	Follower   SwapLeg    `json:"follower_leg"`
	SecretHash SecretHash `json:"secret_hash"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewOrder builds a freshly created order.
func NewOrder(id OrderID, creator Actor, initiatorAmount, followerAmount uint64, from, to Chain, now time.Time) Order {
	return Order{
		ID:        id,
		Creator:   creator,
		Initiator: SwapLeg{Amount: initiatorAmount, Chain: from},
		Follower:  SwapLeg{Amount: followerAmount, Chain: to},
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Leg returns a pointer to the selected leg.
func (o *Order) Leg(side LegSide) *SwapLeg {
	if side == LegFollower {
		return &o.Follower
	}
	return &o.Initiator
}

// Owner returns the actor who locked the given leg.
func (o *Order) Owner(side LegSide) Actor {
	if side == LegFollower {
		return o.Filler
	}
	return o.Creator
}

// IsOpen reports whether the order can still be filled.
func (o *Order) IsOpen() bool {
	return o.Status == StatusCreated && o.Filler == ""
}

// VerifyInvariants checks the rules every stored order must satisfy.
func (o *Order) VerifyInvariants() error {
	if !o.Status.Valid() {
		return fmt.Errorf("invalid status %d", uint8(o.Status))
	}
	// Invariant 1: filler present iff filled or beyond
	if (o.Filler != "") != o.Status.AtOrBeyondFilled() {
		return fmt.Errorf("filler %q inconsistent with status %s", o.Filler, o.Status)
	}
	// Invariant 3: redeem and refund are mutually exclusive per leg
	for _, side := range []LegSide{LegInitiator, LegFollower} {
		leg := o.Leg(side)
		if leg.RedeemTx != "" && leg.RefundTx != "" {
			return fmt.Errorf("%s leg has both redeem and refund", side)
		}
	}
	if o.Initiator.Amount == 0 || o.Follower.Amount == 0 {
		return fmt.Errorf("leg amounts must be positive")
	}
	return nil
}

// VerifySuccessor checks that next is a legal replacement for prev.
func VerifySuccessor(prev, next *Order) error {
	if err := next.VerifyInvariants(); err != nil {
		return err
	}
	if next.ID != prev.ID || next.Creator != prev.Creator {
		return fmt.Errorf("identity fields changed")
	}
	if prev.Filler != "" && next.Filler != prev.Filler {
		return fmt.Errorf("filler changed from %q to %q", prev.Filler, next.Filler)
	}
	if next.Initiator.Amount != prev.Initiator.Amount || next.Follower.Amount != prev.Follower.Amount {
		return fmt.Errorf("leg amounts changed")
	}
	if next.Initiator.Chain != prev.Initiator.Chain || next.Follower.Chain != prev.Follower.Chain {
		return fmt.Errorf("leg chains changed")
	}
	// Invariant 2: commitment is write-once
	if !prev.SecretHash.IsZero() && next.SecretHash != prev.SecretHash {
		return ErrSecretHashMismatch
	}
	// Invariant 4: forward only
	if !prev.Status.CanMoveTo(next.Status) {
		return fmt.Errorf("status %s cannot move to %s", prev.Status, next.Status)
	}
	return nil
}
