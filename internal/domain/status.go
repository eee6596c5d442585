package domain

import "fmt"

// Status is an order's position in the swap lifecycle.
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusFilled
	StatusInitiatorLocked
	StatusFollowerLocked
	StatusFollowerRedeemed
	StatusInitiatorRedeemed
	StatusExecuted
	StatusInitiatorRefunded
	StatusFollowerRefunded
	StatusFailedSoft
	StatusFailedHard
)

var statusNames = [...]string{
	StatusCreated:           "CREATED",
	StatusFilled:            "FILLED",
	StatusInitiatorLocked:   "INITIATOR_LOCKED",
	StatusFollowerLocked:    "FOLLOWER_LOCKED",
	StatusFollowerRedeemed:  "FOLLOWER_REDEEMED",
	StatusInitiatorRedeemed: "INITIATOR_REDEEMED",
	StatusExecuted:          "EXECUTED",
	StatusInitiatorRefunded: "INITIATOR_REFUNDED",
	StatusFollowerRefunded:  "FOLLOWER_REFUNDED",
	StatusFailedSoft:        "FAILED_SOFT",
	StatusFailedHard:        "FAILED_HARD",
}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	return s >= StatusCreated && s <= StatusFailedHard
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n != "" && n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further action is accepted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusInitiatorRefunded, StatusFollowerRefunded, StatusFailedSoft, StatusFailedHard:
		return true
	default:
		return false
	}
}

// rank orders the happy path. Terminal failure states rank above every
// non-terminal state so that moving into them never counts as a regression.
func (s Status) rank() int {
	switch s {
	case StatusCreated:
		return 1
	case StatusFilled:
		return 2
	case StatusInitiatorLocked:
		return 3
	case StatusFollowerLocked:
		return 4
	case StatusFollowerRedeemed:
		return 5
	case StatusInitiatorRedeemed:
		return 6
	case StatusExecuted, StatusInitiatorRefunded, StatusFollowerRefunded, StatusFailedSoft, StatusFailedHard:
		return 7
	default:
		return 0
	}
}

// CanMoveTo reports whether next is an edge of the transition graph from s.
// Staying on the same status is allowed for non-status writes.
func (s Status) CanMoveTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusCreated:
		return next == StatusFilled
	case StatusFilled:
		return next == StatusInitiatorLocked || next == StatusFailedSoft
	case StatusInitiatorLocked:
		return next == StatusFollowerLocked || next == StatusInitiatorRefunded
	case StatusFollowerLocked:
		return next == StatusFollowerRedeemed || next == StatusInitiatorRefunded || next == StatusFollowerRefunded
	case StatusFollowerRedeemed:
		return next == StatusInitiatorRedeemed || next == StatusFailedHard
	case StatusInitiatorRedeemed:
		return next == StatusExecuted
	default:
		return false
	}
}

// AtOrBeyondFilled reports whether an order in status s must carry a filler.
func (s Status) AtOrBeyondFilled() bool {
	return s.rank() >= StatusFilled.rank()
}
