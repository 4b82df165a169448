package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), FixedConfig(5, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_FixedExhaustsExactAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), FixedConfig(3, time.Millisecond), func() error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_UnrecoverableStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Do(context.Background(), FixedConfig(10, time.Millisecond), func() error {
		calls++
		return Unrecoverable(stop)
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, FixedConfig(10, 50*time.Millisecond), func() error {
		calls++
		cancel()
		return errTransient
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCalled(t *testing.T) {
	var seen []uint
	cfg := FixedConfig(3, time.Millisecond)
	cfg.OnRetry = func(n uint, _ error) { seen = append(seen, n) }

	_ = Do(context.Background(), cfg, func() error { return errTransient })
	assert.NotEmpty(t, seen)
	assert.Equal(t, uint(0), seen[0])
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), DefaultConfig(), func() (string, error) {
		calls++
		return "T1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "T1", got)
	assert.Equal(t, 1, calls)
}
