package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/idempotency"
)

// IdempotencyStore is an in-process idempotency.Store.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotency.Entry
	now     func() time.Time
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{entries: make(map[string]idempotency.Entry), now: time.Now}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (*idempotency.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &e, nil
}

// Set keeps a live entry for the key and replaces an expired one.
func (s *IdempotencyStore) Set(_ context.Context, entry *idempotency.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[entry.Key]; ok && e.ExpiresAt.After(s.now()) {
		return nil
	}
	s.entries[entry.Key] = *entry
	return nil
}

func (s *IdempotencyStore) Cleanup(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for k, e := range s.entries {
		if !e.ExpiresAt.After(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
