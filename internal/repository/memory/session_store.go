package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
)

// entry holds one session and its history behind a per-reference lock.
type entry struct {
	mu      sync.Mutex
	session *session.Session
	events  []*session.Event
}

// SessionStore implements session.Store in process memory.
// Transitions are serialized per reference; distinct references never contend.
type SessionStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byTxID  map[string]string
	now     func() time.Time
}

// NewSessionStore creates an empty in-memory store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		entries: make(map[string]*entry),
		byTxID:  make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts s in idle, or returns the stored session when the reference exists.
func (m *SessionStore) Create(_ context.Context, s *session.Session) (*session.Session, error) {
	m.mu.Lock()
	e, exists := m.entries[s.Reference]
	if !exists {
		stored := s.Clone()
		m.entries[s.Reference] = &entry{
			session: stored,
			events:  []*session.Event{stored.CreatedEvent()},
		}
		if stored.TransactionID != "" {
			m.byTxID[stored.TransactionID] = stored.Reference
		}
		m.mu.Unlock()
		return stored.Clone(), nil
	}
	m.mu.Unlock()

	// entry locks are never taken while holding m.mu
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

func (m *SessionStore) lookup(reference string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[reference]
	m.mu.RUnlock()
	if !ok {
		return nil, domainErrors.ErrSessionNotFound
	}
	return e, nil
}

// Get retrieves a session by reference.
func (m *SessionStore) Get(_ context.Context, reference string) (*session.Session, error) {
	e, err := m.lookup(reference)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// GetByTransactionID retrieves a session by gateway transaction id.
func (m *SessionStore) GetByTransactionID(ctx context.Context, transactionID string) (*session.Session, error) {
	m.mu.RLock()
	ref, ok := m.byTxID[transactionID]
	m.mu.RUnlock()
	if !ok || transactionID == "" {
		return nil, domainErrors.ErrSessionNotFound
	}
	return m.Get(ctx, ref)
}

// Transition applies a state change under the reference's lock.
func (m *SessionStore) Transition(_ context.Context, reference string, to session.State, f session.Fields) (*session.Session, error) {
	e, err := m.lookup(reference)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.session.Clone()
	ev, err := next.Apply(to, f, m.now())
	if err != nil {
		return nil, err
	}
	e.session = next
	e.events = append(e.events, ev)

	if next.TransactionID != "" {
		m.mu.Lock()
		m.byTxID[next.TransactionID] = reference
		m.mu.Unlock()
	}
	return next.Clone(), nil
}

// History returns a copy of the session's events, oldest first.
func (m *SessionStore) History(_ context.Context, reference string) ([]*session.Event, error) {
	e, err := m.lookup(reference)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*session.Event, len(e.events))
	for i, ev := range e.events {
		c := *ev
		out[i] = &c
	}
	return out, nil
}

// ListActive returns non-terminal sessions last updated before updatedBefore,
// least recently updated first.
func (m *SessionStore) ListActive(_ context.Context, updatedBefore time.Time, limit int) ([]*session.Session, error) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []*session.Session
	for _, e := range entries {
		e.mu.Lock()
		if !e.session.IsTerminal() && e.session.LastUpdatedAt.Before(updatedBefore) {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdatedAt.Before(out[j].LastUpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
