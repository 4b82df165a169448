package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Code is the outcome surfaced to the caller.
type Code string

const (
	CodeSucceeded Code = "succeeded"
	CodeFailed    Code = "failed"
	CodeTimedOut  Code = "timed_out"
	CodeCancelled Code = "cancelled"
)

// Messages for outcomes that do not carry a gateway message.
const (
	MsgSucceeded = "Payment approved"
	MsgTimedOut  = "Payment timed out. Payment status is unknown; verify the transaction on the terminal before charging again."
	MsgCancelled = "Payment cancelled. Any charge already started on the terminal must be reconciled manually."
)

// retention bounds how long delivered references are remembered.
const retention = 24 * time.Hour

// Outcome is the terminal result of one payment session.
type Outcome struct {
	Reference     string        `json:"reference"`
	Code          Code          `json:"code"`
	Message       string        `json:"message"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Amount        int64         `json:"amount"`
	TipAmount     int64         `json:"tip_amount"`
	Currency      string        `json:"currency"`
	DeviceCode    string        `json:"device_code"`
	DismissAfter  time.Duration `json:"dismiss_after,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// Sink receives outcomes.
type Sink interface {
	Deliver(ctx context.Context, o Outcome) error
}

// FuncSink adapts a function to Sink.
type FuncSink func(ctx context.Context, o Outcome) error

func (f FuncSink) Deliver(ctx context.Context, o Outcome) error { return f(ctx, o) }

var (
	// ErrNotTerminal is returned when asked to notify for a non-terminal session.
	ErrNotTerminal = errors.New("session is not in a terminal state")
	// ErrWrongOutcome is returned by NotifySuccess/NotifyFailure for the opposite outcome.
	ErrWrongOutcome = errors.New("session outcome does not match notification")
)

// Notifier delivers each session's outcome to every sink at most once.
type Notifier struct {
	sinks       []Sink
	autoDismiss time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics

	mu        sync.Mutex
	delivered map[string]time.Time
}

// New creates a Notifier. autoDismiss is attached to success outcomes as a
// presentation hint. metrics may be nil.
func New(autoDismiss time.Duration, logger zerolog.Logger, metrics *observability.Metrics, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:       sinks,
		autoDismiss: autoDismiss,
		logger:      logger.With().Str("component", "notifier").Logger(),
		metrics:     metrics,
		delivered:   make(map[string]time.Time),
	}
}

// NotifySuccess delivers a succeeded session. It returns false when the
// reference was already notified.
func (n *Notifier) NotifySuccess(ctx context.Context, s *session.Session) (bool, error) {
	if s.State != session.StateSucceeded {
		return false, fmt.Errorf("notify success for %s in %s: %w", s.Reference, s.State, ErrWrongOutcome)
	}
	return n.dispatch(ctx, s)
}

// NotifyFailure delivers a failed, timed out or cancelled session.
func (n *Notifier) NotifyFailure(ctx context.Context, s *session.Session) (bool, error) {
	switch s.State {
	case session.StateFailed, session.StateTimedOut, session.StateCancelled:
	case session.StateSucceeded:
		return false, fmt.Errorf("notify failure for %s: %w", s.Reference, ErrWrongOutcome)
	default:
		return false, fmt.Errorf("notify failure for %s in %s: %w", s.Reference, s.State, ErrNotTerminal)
	}
	return n.dispatch(ctx, s)
}

// Notify routes a terminal session to NotifySuccess or NotifyFailure.
func (n *Notifier) Notify(ctx context.Context, s *session.Session) (bool, error) {
	if s.State == session.StateSucceeded {
		return n.NotifySuccess(ctx, s)
	}
	return n.NotifyFailure(ctx, s)
}

// OutcomeFor builds the outcome for a terminal session.
func (n *Notifier) OutcomeFor(s *session.Session) Outcome {
	o := Outcome{
		Reference:     s.Reference,
		TransactionID: s.TransactionID,
		Amount:        s.Amount,
		TipAmount:     s.TipAmount,
		Currency:      s.Currency,
		DeviceCode:    s.DeviceCode,
		OccurredAt:    s.LastUpdatedAt,
	}
	if s.CompletedAt != nil {
		o.OccurredAt = *s.CompletedAt
	}

	switch s.State {
	case session.StateSucceeded:
		o.Code = CodeSucceeded
		o.Message = MsgSucceeded
		o.DismissAfter = n.autoDismiss
	case session.StateTimedOut:
		o.Code = CodeTimedOut
		o.Message = MsgTimedOut
	case session.StateCancelled:
		o.Code = CodeCancelled
		o.Message = MsgCancelled
	default:
		o.Code = CodeFailed
		o.Message = s.ErrorMessage
		if o.Message == "" {
			o.Message = session.MsgPaymentFailed
		}
	}
	return o
}

func (n *Notifier) claim(reference string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.delivered[reference]; ok {
		return false
	}
	now := time.Now()
	if len(n.delivered) > 10_000 {
		for ref, at := range n.delivered {
			if now.Sub(at) > retention {
				delete(n.delivered, ref)
			}
		}
	}
	n.delivered[reference] = now
	return true
}

// dispatch delivers to every sink once per reference. A failing sink does not
// stop the others and does not make the outcome deliverable again.
func (n *Notifier) dispatch(ctx context.Context, s *session.Session) (bool, error) {
	if !n.claim(s.Reference) {
		n.logger.Debug().Str("reference", s.Reference).Msg("outcome already delivered")
		return false, nil
	}

	o := n.OutcomeFor(s)
	var errs []error
	for _, sink := range n.sinks {
		if err := sink.Deliver(ctx, o); err != nil {
			errs = append(errs, err)
			n.logger.Error().Err(err).Str("reference", o.Reference).Str("code", string(o.Code)).Msg("outcome sink failed")
		}
	}

	result := "delivered"
	if len(errs) > 0 {
		result = "sink_error"
	}
	if n.metrics != nil {
		n.metrics.Notifications.WithLabelValues(string(o.Code), result).Inc()
	}
	return true, errors.Join(errs...)
}
