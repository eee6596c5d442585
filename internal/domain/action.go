package domain

import "fmt"

// Action is a swap-progression step requested through Advance.
type Action uint8

const (
	ActionInitiatorLock Action = iota + 1
	ActionFollowerLock
	ActionFollowerRedeem
	ActionInitiatorRedeem
	ActionFinalize
	ActionRefund
	// ActionAbort closes an order whose next step was proven impossible on chain.
	ActionAbort
)

var actionNames = [...]string{
	ActionInitiatorLock:   "initiator_lock",
	ActionFollowerLock:    "follower_lock",
	ActionFollowerRedeem:  "follower_redeem",
	ActionInitiatorRedeem: "initiator_redeem",
	ActionFinalize:        "finalize",
	ActionRefund:          "refund",
	ActionAbort:           "abort",
}

func (a Action) String() string {
	if a >= ActionInitiatorLock && a <= ActionAbort {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction converts an action name into an Action.
func ParseAction(name string) (Action, error) {
	for i, n := range actionNames {
		if n != "" && n == name {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", name)
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an action name.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// LegSide selects one of the two legs of an order.
type LegSide uint8

const (
	LegInitiator LegSide = iota + 1
	LegFollower
)

func (l LegSide) String() string {
	switch l {
	case LegInitiator:
		return "initiator"
	case LegFollower:
		return "follower"
	default:
		return "none"
	}
}

// ParseLegSide converts "initiator"/"follower" into a LegSide.
func ParseLegSide(s string) (LegSide, error) {
	switch s {
	case "initiator":
		return LegInitiator, nil
	case "follower":
		return LegFollower, nil
	case "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown leg %q", s)
	}
}

// ProofContext carries what the caller asserts alongside an action. The
// verifier decides whether those assertions hold on chain.
type ProofContext struct {
	// Actor submitting the action.
	Actor Actor
	// SecretHash announced with the initiator lock.
	SecretHash SecretHash
	// Deadline is the chain-native timelock of the lock being proven.
	Deadline uint64
	// Leg targeted by a refund. Defaults to the initiator leg.
	Leg LegSide
}
