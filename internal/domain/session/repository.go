package session

import (
	"context"
	"time"
)

// Store defines the interface for payment session persistence.
// Implementations hold no business logic beyond the transition table check and
// must serialize Transition calls per reference.
type Store interface {
	// Create inserts a new session, or returns the stored one unchanged when the
	// reference already exists.
	Create(ctx context.Context, s *Session) (*Session, error)

	// Get retrieves a session by reference
	Get(ctx context.Context, reference string) (*Session, error)

	// GetByTransactionID retrieves a session by its gateway transaction id
	GetByTransactionID(ctx context.Context, transactionID string) (*Session, error)

	// Transition atomically applies a state change plus field updates
	Transition(ctx context.Context, reference string, to State, f Fields) (*Session, error)

	// History returns the transition events of a session, oldest first
	History(ctx context.Context, reference string) ([]*Event, error)

	// ListActive lists non-terminal sessions last updated before the given time
	ListActive(ctx context.Context, updatedBefore time.Time, limit int) ([]*Session, error)
}
