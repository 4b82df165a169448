package idempotency

import (
	"context"
	"time"
)

// Entry is a recorded response for an Idempotency-Key.
type Entry struct {
	Key            string
	ResponseBody   string
	ResponseStatus int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Store persists idempotent responses. Get returns nil, nil for unknown or
// expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Cleanup(ctx context.Context) (int64, error)
}
