package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport failure talking to a chain node.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "confirm_lock", "dial")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Kind classifies why an action on the book was rejected.
type Kind uint8

const (
	KindNotFound Kind = iota + 1
	KindUnauthorized
	KindInvalidTransition
	KindConflict
	KindVerificationPending
	KindVerificationFailed
	KindAllocatorExhausted
	KindInvalidOrder
)

// Kind sentinels. errors.Is(err, ErrConflict) matches any OrderError of that kind.
var (
	ErrNotFound            = errors.New("order not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrConflict            = errors.New("conflict")
	ErrVerificationPending = errors.New("verification pending")
	ErrVerificationFailed  = errors.New("verification failed")
	ErrAllocatorExhausted  = errors.New("order id allocator exhausted")
	ErrInvalidOrder        = errors.New("invalid order")
)

// Reasons name the precondition that was violated.
var (
	ErrOrderAlreadyFilled = errors.New("order already filled")
	ErrOrderRetired       = errors.New("order id retired")
	ErrNotOrderCreator    = errors.New("caller is not the order creator")
	ErrNotOrderFiller     = errors.New("caller is not the order filler")
	ErrNotParticipant     = errors.New("caller is not a party to the order")
	ErrSelfFill           = errors.New("creator cannot fill own order")
	ErrStaleStatus        = errors.New("order status changed concurrently")
	ErrDuplicateID        = errors.New("order id already in use")
	ErrTerminalStatus     = errors.New("order is in a terminal status")
	ErrOutOfOrder         = errors.New("action not reachable from current status")
	ErrSecretHashRequired = errors.New("secret hash required")
	ErrSecretHashMismatch = errors.New("secret hash does not match commitment")
	ErrPreimageMismatch   = errors.New("revealed secret does not hash to commitment")
	ErrDeadlineRequired   = errors.New("lock deadline required")
	ErrDeadlineExpired    = errors.New("deadline expired")
	ErrDeadlineNotElapsed = errors.New("deadline has not elapsed")
	ErrProofRejected      = errors.New("proof rejected")
	ErrNotObserved        = errors.New("event not yet observed on chain")
	ErrLegRedeemed        = errors.New("leg already redeemed")
	ErrLegNotLocked       = errors.New("leg not locked")
	ErrLegsNotRedeemed    = errors.New("both legs must be redeemed")
	ErrAbortNotProven     = errors.New("abort requires proof that the next step cannot happen")
	ErrZeroAmount         = errors.New("amounts must be positive")
	ErrIncompatibleChains = errors.New("chains are not compatible")
	ErrEmptyActor         = errors.New("actor required")
	ErrInvariantViolated  = errors.New("order invariant violated")
)

var kindSentinels = map[Kind]error{
	KindNotFound:            ErrNotFound,
	KindUnauthorized:        ErrUnauthorized,
	KindInvalidTransition:   ErrInvalidTransition,
	KindConflict:            ErrConflict,
	KindVerificationPending: ErrVerificationPending,
	KindVerificationFailed:  ErrVerificationFailed,
	KindAllocatorExhausted:  ErrAllocatorExhausted,
	KindInvalidOrder:        ErrInvalidOrder,
}

func (k Kind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// OrderError is the typed error returned by every book operation.
type OrderError struct {
	Kind    Kind
	OrderID OrderID
	Op      string // e.g. "fill_order", "advance(initiator_lock)"
	Reason  error  // one of the reason sentinels above
	Err     error  // underlying cause, may be nil
}

func (e *OrderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "order %d: %s: ", e.OrderID, e.Op)
	if e.Reason != nil {
		b.WriteString(e.Reason.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the sentinel of the error's kind.
func (e *OrderError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *OrderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRetriable is true for lost races and for chain events not yet observed.
func (e *OrderError) IsRetriable() bool {
	return e.Kind == KindConflict || e.Kind == KindVerificationPending
}

// NewOrderError builds an OrderError without an underlying cause.
func NewOrderError(kind Kind, id OrderID, op string, reason error) *OrderError {
	return &OrderError{Kind: kind, OrderID: id, Op: op, Reason: reason}
}

// KindOf extracts the kind of an OrderError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return 0, false
}
