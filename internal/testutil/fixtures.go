package testutil

import (
	"context"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
)

func NewTestSession(reference string, amountCents int64, deviceCode string, maxAttempts int) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		Reference:     reference,
		Amount:        amountCents,
		Currency:      "USD",
		DeviceCode:    deviceCode,
		State:         session.StateIdle,
		MaxAttempts:   maxAttempts,
		Metadata:      map[string]any{},
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// SeedSession stores s and walks it through path, as a crashed instance would
// have left it.
func SeedSession(ctx context.Context, store session.Store, s *session.Session, path ...session.State) (*session.Session, error) {
	cur, err := store.Create(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, to := range path {
		if cur, err = store.Transition(ctx, s.Reference, to, session.Fields{}); err != nil {
			return nil, err
		}
	}
	return cur, nil
}
