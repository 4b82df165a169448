package session

import (
	"fmt"
	"maps"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/google/uuid"
)

// State represents the session state in the terminal payment state machine
type State string

const (
	StateIdle           State = "idle"
	StateCheckingDevice State = "checking_device"
	StateInitiating     State = "initiating"
	StateAttaching      State = "attaching"
	StatePolling        State = "polling"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateTimedOut       State = "timed_out"
	StateCancelled      State = "cancelled"
)

// Message constants surfaced to merchants on precondition and orchestration failures.
const (
	MsgNoDevicesConfigured = "No terminal devices configured"
	MsgDeviceNotReady      = "Terminal device is not ready"
	MsgAttachFailed        = "could not attach to in-progress payment"
	MsgTimedOut            = "Payment timed out"
	MsgPaymentFailed       = "Payment failed"
	MsgPaymentDeclined     = "Payment declined"
	MsgGatewayUnavailable  = "Terminal gateway unavailable"
)

// transitions is the allowed-transition table. Self transitions on attaching and
// polling carry attempt increments.
var transitions = map[State][]State{
	StateIdle:           {StateCheckingDevice},
	StateCheckingDevice: {StateInitiating, StateFailed, StateCancelled},
	StateInitiating:     {StatePolling, StateAttaching, StateFailed, StateCancelled},
	StateAttaching:      {StateAttaching, StatePolling, StateFailed, StateCancelled},
	StatePolling:        {StatePolling, StateSucceeded, StateFailed, StateTimedOut, StateCancelled},
	StateSucceeded:      {},
	StateFailed:         {},
	StateTimedOut:       {},
	StateCancelled:      {},
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session is one user-initiated terminal payment attempt, keyed by its reference.
type Session struct {
	Reference     string
	Amount        int64 // minor units
	TipAmount     int64 // minor units
	Currency      string
	DeviceCode    string
	TransactionID string
	State         State
	Attempts      int
	MaxAttempts   int
	ErrorMessage  string
	Metadata      map[string]any
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	CompletedAt   *time.Time
}

// Fields carries the field updates applied together with a state change.
type Fields struct {
	// TransactionID replaces the current id when non-empty.
	TransactionID string
	// IncrementAttempts bumps Attempts by one; fails once MaxAttempts is reached.
	IncrementAttempts bool
	// ErrorMessage is only accepted when entering failed or timed_out.
	ErrorMessage string
}

// Event is an audit record of a single transition.
type Event struct {
	ID            uuid.UUID
	Reference     string
	FromState     State
	ToState       State
	Attempts      int
	TransactionID string
	Message       string
	CreatedAt     time.Time
}

// NewSession creates a session in the idle state.
func NewSession(reference string, amount, tipAmount int64, currency, deviceCode string, maxAttempts int, metadata map[string]any) (*Session, error) {
	if reference == "" {
		return nil, errors.NewValidationError("reference", "cannot be empty")
	}
	if amount <= 0 {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}
	if tipAmount < 0 {
		return nil, errors.NewValidationError("tip_amount", "cannot be negative")
	}
	if len(currency) != 3 {
		return nil, errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if maxAttempts <= 0 {
		return nil, errors.NewValidationError("max_attempts", "must be greater than 0")
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}

	now := time.Now().UTC()
	return &Session{
		Reference:     reference,
		Amount:        amount,
		TipAmount:     tipAmount,
		Currency:      currency,
		DeviceCode:    deviceCode,
		State:         StateIdle,
		MaxAttempts:   maxAttempts,
		Metadata:      metadata,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}, nil
}

// CreatedEvent returns the audit record for the session's creation.
func (s *Session) CreatedEvent() *Event {
	return &Event{
		ID:        uuid.New(),
		Reference: s.Reference,
		FromState: "",
		ToState:   StateIdle,
		CreatedAt: s.CreatedAt,
	}
}

// IsTerminal checks if the session is in a terminal state
func (s *Session) IsTerminal() bool {
	return s.State.IsTerminal()
}

// RemainingAttempts returns how many poll attempts are left in the budget.
func (s *Session) RemainingAttempts() int {
	if s.Attempts >= s.MaxAttempts {
		return 0
	}
	return s.MaxAttempts - s.Attempts
}

// PollKey returns the identifier used to query the gateway: the transaction id
// once known, the reference otherwise.
func (s *Session) PollKey() string {
	if s.TransactionID != "" {
		return s.TransactionID
	}
	return s.Reference
}

// Total returns amount plus tip in minor units.
func (s *Session) Total() int64 {
	return s.Amount + s.TipAmount
}

// Apply validates and applies a transition in place, returning its audit event.
// The session is left untouched on error.
func (s *Session) Apply(to State, f Fields, now time.Time) (*Event, error) {
	if !CanTransition(s.State, to) {
		return nil, errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(s.State)+" to "+string(to),
			errors.ErrInvalidStateTransition,
		)
	}
	if f.ErrorMessage != "" && to != StateFailed && to != StateTimedOut {
		return nil, errors.NewValidationError("error_message", "only allowed when entering failed or timed_out")
	}
	if f.IncrementAttempts && s.Attempts >= s.MaxAttempts {
		return nil, fmt.Errorf("session %s at %d/%d attempts: %w", s.Reference, s.Attempts, s.MaxAttempts, errors.ErrMaxAttemptsExceeded)
	}

	from := s.State
	s.State = to
	if f.TransactionID != "" {
		s.TransactionID = f.TransactionID
	}
	if f.IncrementAttempts {
		s.Attempts++
	}
	if f.ErrorMessage != "" {
		s.ErrorMessage = f.ErrorMessage
	}
	s.LastUpdatedAt = now
	if to.IsTerminal() {
		completed := now
		s.CompletedAt = &completed
	}

	return &Event{
		ID:            uuid.New(),
		Reference:     s.Reference,
		FromState:     from,
		ToState:       to,
		Attempts:      s.Attempts,
		TransactionID: s.TransactionID,
		Message:       f.ErrorMessage,
		CreatedAt:     now,
	}, nil
}

// Clone returns a deep copy safe to hand out across goroutines.
func (s *Session) Clone() *Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
