package service

import (
	"context"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Resumer re-enters orchestration for a session.
type Resumer interface {
	Resume(ctx context.Context, reference string) (bool, error)
}

// Reconciler picks up sessions whose run was lost, e.g. after a crash.
type Reconciler struct {
	store      session.Store
	resumer    Resumer
	staleAfter time.Duration
	batchSize  int
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewReconciler creates a reconciler. metrics may be nil.
func NewReconciler(store session.Store, resumer Resumer, staleAfter time.Duration, batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		store:      store,
		resumer:    resumer,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger.With().Str("component", "reconciler").Logger(),
		metrics:    metrics,
		now:        time.Now,
	}
}

// RunOnce resumes every non-terminal session idle for longer than staleAfter,
// up to one batch. It returns how many runs were started.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ReconcilerRunDuration.Observe(time.Since(start).Seconds())
		}
	}()

	stale, err := r.store.ListActive(ctx, r.now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		ok, err := r.resumer.Resume(ctx, s.Reference)
		result := "skipped"
		switch {
		case err != nil:
			result = "error"
			r.logger.Error().Err(err).Str("reference", s.Reference).Msg("Failed to resume session")
		case ok:
			result = "resumed"
			resumed++
			r.logger.Info().Str("reference", s.Reference).Str("state", string(s.State)).Msg("Resumed stale session")
		}
		if r.metrics != nil {
			r.metrics.ReconcilerResumed.WithLabelValues(result).Inc()
		}
	}
	return resumed, nil
}

// Run calls RunOnce every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Reconciler pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
