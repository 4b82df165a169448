package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the gateway circuit breaker.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings mirrors the policy used for processor calls.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "terminal-gateway",
		MaxRequests:  10,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerClient decorates a Client with a circuit breaker and call metrics.
// An open breaker fails fast with ErrGatewayUnavailable; the request is never sent.
type BreakerClient struct {
	next    Client
	cb      *gobreaker.CircuitBreaker[any]
	name    string
	metrics *observability.Metrics
}

// NewBreakerClient wraps next. metrics may be nil.
func NewBreakerClient(next Client, s BreakerSettings, metrics *observability.Metrics) *BreakerClient {
	b := &BreakerClient{next: next, name: s.Name, metrics: metrics}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	if metrics != nil {
		metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(float64(gobreaker.StateClosed))
	}
	return b
}

// Rejected reports whether err came from an open or saturated breaker, in
// which case the request never reached the processor.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	res, err := b.cb.Execute(fn)

	if b.metrics != nil {
		b.metrics.GatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		result := "success"
		switch {
		case Rejected(err):
			result = "rejected"
		case err != nil:
			result = "error"
		}
		b.metrics.GatewayRequests.WithLabelValues(operation, result).Inc()
		b.metrics.CircuitBreakerRequests.WithLabelValues(b.name, result).Inc()
	}

	if Rejected(err) {
		return nil, fmt.Errorf("%s: %w: %w", operation, err, domainErrors.ErrGatewayUnavailable)
	}
	return res, err
}

// InitiatePurchase implements Client.
func (b *BreakerClient) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*InitiateResult, error) {
	res, err := b.execute("initiate", func() (any, error) {
		return b.next.InitiatePurchase(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*InitiateResult), nil
}

// CheckStatus implements Client.
func (b *BreakerClient) CheckStatus(ctx context.Context, deviceCode, idOrReference string) (*StatusResult, error) {
	res, err := b.execute("status", func() (any, error) {
		return b.next.CheckStatus(ctx, deviceCode, idOrReference)
	})
	if err != nil {
		return nil, err
	}
	return res.(*StatusResult), nil
}

// CheckDeviceReadiness implements Client.
func (b *BreakerClient) CheckDeviceReadiness(ctx context.Context, deviceCode string) (bool, error) {
	res, err := b.execute("readiness", func() (any, error) {
		return b.next.CheckDeviceReadiness(ctx, deviceCode)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// ListDevices implements Client.
func (b *BreakerClient) ListDevices(ctx context.Context) (*DeviceList, error) {
	res, err := b.execute("devices", func() (any, error) {
		return b.next.ListDevices(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*DeviceList), nil
}
