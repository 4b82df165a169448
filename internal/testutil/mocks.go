package testutil

import (
	"context"
	"sync"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/gateway"
)

// --- Gateway Mock ---

// StatusStep is one scripted CheckStatus answer.
type StatusStep struct {
	Result *gateway.StatusResult
	Err    error
}

// MockGateway is a scriptable implementation of gateway.Client that records
// every call. Func fields override the default behaviour.
type MockGateway struct {
	mu           sync.Mutex
	statusScript []StatusStep

	InitiateCalls  []gateway.PurchaseRequest
	StatusKeys     []string
	ReadinessCalls []string
	ListCalls      int

	InitiateFunc    func(ctx context.Context, req gateway.PurchaseRequest) (*gateway.InitiateResult, error)
	CheckStatusFunc func(ctx context.Context, deviceCode, key string) (*gateway.StatusResult, error)
	ReadinessFunc   func(ctx context.Context, deviceCode string) (bool, error)
	ListDevicesFunc func(ctx context.Context) (*gateway.DeviceList, error)
}

// NewMockGateway returns a gateway with one ready device "D1" that accepts
// purchases without an id and reports pending until scripted otherwise.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// ScriptStatus queues CheckStatus answers. The last step repeats once the queue drains.
func (m *MockGateway) ScriptStatus(steps ...StatusStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusScript = append(m.statusScript, steps...)
}

// Pending, Completed and Failed build status steps.
func Pending(txID string) StatusStep {
	return StatusStep{Result: &gateway.StatusResult{Status: gateway.TxPending, TransactionID: txID}}
}

func Completed(txID string) StatusStep {
	return StatusStep{Result: &gateway.StatusResult{Status: gateway.TxCompleted, TransactionID: txID}}
}

func Failed(txID, message string) StatusStep {
	return StatusStep{Result: &gateway.StatusResult{Status: gateway.TxFailed, TransactionID: txID, Message: message}}
}

func Errored(err error) StatusStep {
	return StatusStep{Err: err}
}

func (m *MockGateway) InitiatePurchase(ctx context.Context, req gateway.PurchaseRequest) (*gateway.InitiateResult, error) {
	m.mu.Lock()
	m.InitiateCalls = append(m.InitiateCalls, req)
	fn := m.InitiateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &gateway.InitiateResult{Status: gateway.InitiateOK}, nil
}

func (m *MockGateway) CheckStatus(ctx context.Context, deviceCode, key string) (*gateway.StatusResult, error) {
	m.mu.Lock()
	m.StatusKeys = append(m.StatusKeys, key)
	fn := m.CheckStatusFunc
	var step *StatusStep
	if fn == nil && len(m.statusScript) > 0 {
		s := m.statusScript[0]
		if len(m.statusScript) > 1 {
			m.statusScript = m.statusScript[1:]
		}
		step = &s
	}
	m.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, deviceCode, key)
	case step != nil:
		if step.Err != nil {
			return nil, step.Err
		}
		r := *step.Result
		return &r, nil
	}
	return &gateway.StatusResult{Status: gateway.TxPending}, nil
}

func (m *MockGateway) CheckDeviceReadiness(ctx context.Context, deviceCode string) (bool, error) {
	m.mu.Lock()
	m.ReadinessCalls = append(m.ReadinessCalls, deviceCode)
	fn := m.ReadinessFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, deviceCode)
	}
	return true, nil
}

func (m *MockGateway) ListDevices(ctx context.Context) (*gateway.DeviceList, error) {
	m.mu.Lock()
	m.ListCalls++
	fn := m.ListDevicesFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return &gateway.DeviceList{
		Configured:        true,
		DefaultDeviceCode: "D1",
		Devices:           []gateway.Device{{Code: "D1", Name: "Front desk", Active: true}},
	}, nil
}

// InitiateCount returns the number of InitiatePurchase calls.
func (m *MockGateway) InitiateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InitiateCalls)
}

// StatusCalls returns a copy of the keys passed to CheckStatus, in call order.
func (m *MockGateway) StatusCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.StatusKeys...)
}

// ReadinessCount returns the number of readiness checks.
func (m *MockGateway) ReadinessCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ReadinessCalls)
}

// ListCount returns the number of ListDevices calls.
func (m *MockGateway) ListCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListCalls
}

// --- Notifier Mock ---

// MockNotifier records every Notify call without deduplicating.
type MockNotifier struct {
	mu       sync.Mutex
	Sessions []*session.Session
	Err      error
}

func (m *MockNotifier) Notify(_ context.Context, s *session.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions = append(m.Sessions, s.Clone())
	return true, m.Err
}

// Calls returns a copy of the notified sessions.
func (m *MockNotifier) Calls() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*session.Session(nil), m.Sessions...)
}

// --- RunGuard Mock ---

// MockRunGuard grants or refuses leases and counts releases. OnAcquire runs
// before a lease is granted, standing in for work another instance finished
// while this one waited.
type MockRunGuard struct {
	mu        sync.Mutex
	Deny      bool
	Err       error
	Acquired  []string
	Released  int
	OnAcquire func(reference string)
}

func (m *MockRunGuard) TryAcquire(_ context.Context, reference string) (func(), bool, error) {
	if m.OnAcquire != nil {
		m.OnAcquire(reference)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil || m.Deny {
		return nil, false, m.Err
	}
	m.Acquired = append(m.Acquired, reference)
	return func() {
		m.mu.Lock()
		m.Released++
		m.mu.Unlock()
	}, true, nil
}

// ReleaseCount returns how many leases were released.
func (m *MockRunGuard) ReleaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Released
}
