// Package engine holds the swap transition function. Everything here is pure:
// callers read an order, ask the machine what must be verified, run the
// verification, then ask the machine for the successor order.
package engine

import (
	"fmt"

	"swapbook/internal/domain"
)

// CheckKind names the on-chain fact a step depends on.
type CheckKind uint8

const (
	CheckNone CheckKind = iota
	CheckLock
	CheckRedeem
	// CheckRefund needs the deadline elapsed, no redeem of the leg and a
	// confirmed refund transaction.
	CheckRefund
)

// Step is a validated action waiting for its verification.
type Step struct {
	Action   domain.Action
	From     domain.Status
	Check    CheckKind
	Leg      domain.LegSide
	Chain    domain.Chain
	Hash     domain.SecretHash
	Amount   uint64
	Deadline uint64
	Actor    domain.Actor
}

// Outcome is what the verifier reported for a Step.
type Outcome struct {
	Verdict domain.Verdict
	Lock    domain.LockProof
	Redeem  domain.RedeemProof
	Refund  domain.RefundProof
	Elapsed bool
	// Redeemed is set when a refund check found the leg redeemed on chain.
	Redeemed bool
}

// StateMachine is the transition function of the book.
type StateMachine struct {
	chains *domain.ChainRegistry
}

// NewStateMachine creates a state machine accepting orders on the given chains.
func NewStateMachine(chains *domain.ChainRegistry) *StateMachine {
	return &StateMachine{chains: chains}
}

// Chains returns the registry the machine validates against.
func (m *StateMachine) Chains() *domain.ChainRegistry {
	return m.chains
}

func op(a domain.Action) string {
	return "advance(" + a.String() + ")"
}

// CheckCreate validates the parameters of a new order.
func (m *StateMachine) CheckCreate(creator domain.Actor, initiatorAmount, followerAmount uint64, from, to domain.Chain) error {
	const name = "create_order"
	if creator == "" {
		return domain.NewOrderError(domain.KindInvalidOrder, 0, name, domain.ErrEmptyActor)
	}
	if initiatorAmount == 0 || followerAmount == 0 {
		return domain.NewOrderError(domain.KindInvalidOrder, 0, name, domain.ErrZeroAmount)
	}
	if !m.chains.Compatible(from, to) {
		return &domain.OrderError{
			Kind:   domain.KindInvalidOrder,
			Op:     name,
			Reason: domain.ErrIncompatibleChains,
			Err:    fmt.Errorf("%s -> %s", from, to),
		}
	}
	return nil
}

// CheckFill validates a fill against the current order.
func (m *StateMachine) CheckFill(o *domain.Order, filler domain.Actor) error {
	const name = "fill_order"
	if filler == "" {
		return domain.NewOrderError(domain.KindInvalidOrder, o.ID, name, domain.ErrEmptyActor)
	}
	if o.Filler != "" {
		return domain.NewOrderError(domain.KindConflict, o.ID, name, domain.ErrOrderAlreadyFilled)
	}
	if o.Status != domain.StatusCreated {
		return domain.NewOrderError(domain.KindInvalidTransition, o.ID, name, domain.ErrOutOfOrder)
	}
	if filler == o.Creator {
		return domain.NewOrderError(domain.KindUnauthorized, o.ID, name, domain.ErrSelfFill)
	}
	return nil
}

// ApplyFill returns the filled successor of o.
func (m *StateMachine) ApplyFill(o domain.Order, filler domain.Actor) domain.Order {
	o.Filler = filler
	o.Status = domain.StatusFilled
	return o
}

// CheckCancel validates a cancellation against the current order.
func (m *StateMachine) CheckCancel(o *domain.Order, caller domain.Actor) error {
	const name = "cancel_order"
	if caller != o.Creator {
		return domain.NewOrderError(domain.KindUnauthorized, o.ID, name, domain.ErrNotOrderCreator)
	}
	if o.Filler != "" {
		return domain.NewOrderError(domain.KindInvalidTransition, o.ID, name, domain.ErrOrderAlreadyFilled)
	}
	if o.Status != domain.StatusCreated {
		return domain.NewOrderError(domain.KindInvalidTransition, o.ID, name, domain.ErrOutOfOrder)
	}
	return nil
}

// Precheck validates status, authorization and proof shape for an Advance
// action and describes the verification it requires.
func (m *StateMachine) Precheck(o *domain.Order, action domain.Action, proof domain.ProofContext) (Step, error) {
	name := op(action)
	fail := func(kind domain.Kind, reason error) (Step, error) {
		return Step{}, domain.NewOrderError(kind, o.ID, name, reason)
	}

	if o.Status.IsTerminal() {
		return fail(domain.KindInvalidTransition, domain.ErrTerminalStatus)
	}
	step := Step{Action: action, From: o.Status, Actor: proof.Actor}

	switch action {
	case domain.ActionInitiatorLock:
		if o.Status != domain.StatusFilled {
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}
		if proof.Actor != o.Creator {
			return fail(domain.KindUnauthorized, domain.ErrNotOrderCreator)
		}
		if proof.SecretHash.IsZero() {
			return fail(domain.KindInvalidOrder, domain.ErrSecretHashRequired)
		}
		if !o.SecretHash.IsZero() && o.SecretHash != proof.SecretHash {
			return fail(domain.KindVerificationFailed, domain.ErrSecretHashMismatch)
		}
		if proof.Deadline == 0 {
			return fail(domain.KindInvalidOrder, domain.ErrDeadlineRequired)
		}
		step.Check = CheckLock
		step.Leg = domain.LegInitiator
		step.Chain = o.Initiator.Chain
		step.Hash = proof.SecretHash
		step.Amount = o.Initiator.Amount
		step.Deadline = proof.Deadline

	case domain.ActionFollowerLock:
		if o.Status != domain.StatusInitiatorLocked {
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}
		if proof.Actor != o.Filler {
			return fail(domain.KindUnauthorized, domain.ErrNotOrderFiller)
		}
		if !proof.SecretHash.IsZero() && proof.SecretHash != o.SecretHash {
			return fail(domain.KindVerificationFailed, domain.ErrSecretHashMismatch)
		}
		if proof.Deadline == 0 {
			return fail(domain.KindInvalidOrder, domain.ErrDeadlineRequired)
		}
		step.Check = CheckLock
		step.Leg = domain.LegFollower
		step.Chain = o.Follower.Chain
		step.Hash = o.SecretHash
		step.Amount = o.Follower.Amount
		step.Deadline = proof.Deadline

	case domain.ActionFollowerRedeem:
		if o.Status != domain.StatusFollowerLocked {
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}
		if proof.Actor != o.Filler {
			return fail(domain.KindUnauthorized, domain.ErrNotOrderFiller)
		}
		step.Check = CheckRedeem
		step.Leg = domain.LegInitiator
		step.Chain = o.Initiator.Chain
		step.Hash = o.SecretHash
		step.Deadline = o.Initiator.Deadline

	case domain.ActionInitiatorRedeem:
		if o.Status != domain.StatusFollowerRedeemed {
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}
		if proof.Actor != o.Creator {
			return fail(domain.KindUnauthorized, domain.ErrNotOrderCreator)
		}
		step.Check = CheckRedeem
		step.Leg = domain.LegFollower
		step.Chain = o.Follower.Chain
		step.Hash = o.SecretHash
		step.Deadline = o.Follower.Deadline

	case domain.ActionFinalize:
		if o.Status != domain.StatusInitiatorRedeemed {
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}
		if proof.Actor != o.Creator && proof.Actor != o.Filler {
			return fail(domain.KindUnauthorized, domain.ErrNotParticipant)
		}
		if o.Initiator.RedeemTx == "" || o.Follower.RedeemTx == "" {
			return fail(domain.KindInvalidTransition, domain.ErrLegsNotRedeemed)
		}
		step.Check = CheckNone

	case domain.ActionRefund:
		side := proof.Leg
		if side == 0 {
			side = domain.LegInitiator
		}
		switch o.Status {
		case domain.StatusInitiatorLocked:
			if side != domain.LegInitiator {
				return fail(domain.KindInvalidTransition, domain.ErrLegNotLocked)
			}
		case domain.StatusFollowerLocked:
		default:
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}
		if proof.Actor != o.Owner(side) {
			return fail(domain.KindUnauthorized, domain.ErrNotParticipant)
		}
		leg := o.Leg(side)
		if !leg.Locked() {
			return fail(domain.KindInvalidTransition, domain.ErrLegNotLocked)
		}
		if leg.RedeemTx != "" {
			return fail(domain.KindInvalidTransition, domain.ErrLegRedeemed)
		}
		step.Check = CheckRefund
		step.Leg = side
		step.Chain = leg.Chain
		step.Hash = o.SecretHash
		step.Deadline = leg.Deadline

	case domain.ActionAbort:
		if proof.Actor != o.Creator && proof.Actor != o.Filler {
			return fail(domain.KindUnauthorized, domain.ErrNotParticipant)
		}
		switch o.Status {
		case domain.StatusFilled:
			// Only the initiator can prove its own lock expired unfunded.
			if proof.Actor != o.Creator {
				return fail(domain.KindUnauthorized, domain.ErrNotOrderCreator)
			}
			if proof.SecretHash.IsZero() {
				return fail(domain.KindInvalidOrder, domain.ErrSecretHashRequired)
			}
			if proof.Deadline == 0 {
				return fail(domain.KindInvalidOrder, domain.ErrDeadlineRequired)
			}
			step.Check = CheckLock
			step.Leg = domain.LegInitiator
			step.Chain = o.Initiator.Chain
			step.Hash = proof.SecretHash
			step.Amount = o.Initiator.Amount
			step.Deadline = proof.Deadline
		case domain.StatusFollowerRedeemed:
			// The follower leg can no longer be redeemed by the initiator.
			step.Check = CheckRedeem
			step.Leg = domain.LegFollower
			step.Chain = o.Follower.Chain
			step.Hash = o.SecretHash
			step.Deadline = o.Follower.Deadline
		default:
			return fail(domain.KindInvalidTransition, domain.ErrOutOfOrder)
		}

	default:
		return fail(domain.KindInvalidOrder, fmt.Errorf("unsupported action %s", action))
	}
	return step, nil
}

// Apply computes the successor of o once the verification of step has
// returned. It never mutates o.
func (m *StateMachine) Apply(o domain.Order, step Step, out Outcome) (domain.Order, error) {
	name := op(step.Action)
	pending := func(reason error) (domain.Order, error) {
		return o, domain.NewOrderError(domain.KindVerificationPending, o.ID, name, reason)
	}
	failed := func(reason error) (domain.Order, error) {
		return o, domain.NewOrderError(domain.KindVerificationFailed, o.ID, name, reason)
	}
	verdict := func() (domain.Order, error) {
		switch out.Verdict {
		case domain.VerdictNotYet:
			return pending(domain.ErrNotObserved)
		case domain.VerdictExpired:
			return failed(domain.ErrDeadlineExpired)
		default:
			return failed(domain.ErrProofRejected)
		}
	}

	if o.Status != step.From {
		return o, domain.NewOrderError(domain.KindConflict, o.ID, name, domain.ErrStaleStatus)
	}

	switch step.Action {
	case domain.ActionInitiatorLock, domain.ActionFollowerLock:
		if out.Verdict != domain.VerdictConfirmed {
			return verdict()
		}
		leg := o.Leg(step.Leg)
		leg.Address = out.Lock.Address
		leg.InitTx = out.Lock.TxRef
		leg.Deadline = step.Deadline
		if step.Action == domain.ActionInitiatorLock {
			o.SecretHash = step.Hash
			o.Status = domain.StatusInitiatorLocked
		} else {
			o.Status = domain.StatusFollowerLocked
		}

	case domain.ActionFollowerRedeem, domain.ActionInitiatorRedeem:
		if out.Verdict != domain.VerdictConfirmed {
			return verdict()
		}
		if !o.SecretHash.Matches(out.Redeem.Secret) {
			return failed(domain.ErrPreimageMismatch)
		}
		o.Leg(step.Leg).RedeemTx = out.Redeem.TxRef
		if step.Action == domain.ActionFollowerRedeem {
			o.Status = domain.StatusFollowerRedeemed
		} else {
			o.Status = domain.StatusInitiatorRedeemed
		}

	case domain.ActionFinalize:
		o.Status = domain.StatusExecuted

	case domain.ActionRefund:
		if !out.Elapsed {
			return pending(domain.ErrDeadlineNotElapsed)
		}
		if out.Redeemed {
			return failed(domain.ErrLegRedeemed)
		}
		if out.Verdict != domain.VerdictConfirmed {
			return verdict()
		}
		if out.Refund.TxRef == "" {
			return failed(domain.ErrProofRejected)
		}
		o.Leg(step.Leg).RefundTx = out.Refund.TxRef
		if step.Leg == domain.LegFollower {
			o.Status = domain.StatusFollowerRefunded
		} else {
			o.Status = domain.StatusInitiatorRefunded
		}

	case domain.ActionAbort:
		// A mismatched lock proves nothing about the real one, only expiry counts.
		switch out.Verdict {
		case domain.VerdictNotYet:
			return pending(domain.ErrNotObserved)
		case domain.VerdictExpired:
		default:
			return o, domain.NewOrderError(domain.KindInvalidTransition, o.ID, name, domain.ErrAbortNotProven)
		}
		if step.From == domain.StatusFilled {
			o.Status = domain.StatusFailedSoft
		} else {
			o.Status = domain.StatusFailedHard
		}

	default:
		return o, domain.NewOrderError(domain.KindInvalidOrder, o.ID, name, fmt.Errorf("unsupported action %s", step.Action))
	}
	return o, nil
}
