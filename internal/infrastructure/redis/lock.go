package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runKeyPrefix = "terminalpay:run:"

// Both scripts act only while the key still holds this lease's token, so an
// instance whose lease expired can never touch a newer holder's key.
var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)

	dropScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
)

// lease is one instance's claim on a session run.
type lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func (l *lease) claim(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", domainErrors.ErrLockAcquisitionFailed, err)
	}
	return ok, nil
}

func (l *lease) renew(ctx context.Context) error {
	return l.run(ctx, renewScript, l.ttl.Milliseconds())
}

func (l *lease) drop(ctx context.Context) error {
	return l.run(ctx, dropScript)
}

func (l *lease) run(ctx context.Context, script *redis.Script, args ...any) error {
	n, err := script.Run(ctx, l.client, []string{l.key}, append([]any{l.token}, args...)...).Int64()
	if err != nil {
		return fmt.Errorf("run lease script on %s: %w", l.key, err)
	}
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// RunGuard hands out one orchestration lease per session reference across instances.
type RunGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunGuard creates a guard whose leases expire after ttl unless renewed.
func NewRunGuard(client *redis.Client, ttl time.Duration) *RunGuard {
	return &RunGuard{client: client, ttl: ttl}
}

// TryAcquire claims the run for reference. It returns ok=false when another
// instance holds it. The lease is renewed every ttl/3 until release is called;
// a failed renewal stops renewing and lets the key expire.
func (g *RunGuard) TryAcquire(ctx context.Context, reference string) (release func(), ok bool, err error) {
	l := &lease{client: g.client, key: runKeyPrefix + reference, token: uuid.NewString(), ttl: g.ttl}
	if ok, err := l.claim(ctx); err != nil || !ok {
		return nil, false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(g.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				renewCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				err := l.renew(renewCtx)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			dropCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = l.drop(dropCtx)
		})
	}, true, nil
}
