package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

type simTx struct {
	id         string
	reference  string
	deviceCode string
	declined   bool
	settleAt   time.Time
}

// Simulator is an in-process terminal processor for local runs and demos.
// A purchase settles settleAfter after initiation. A second purchase on a
// device with an unsettled transaction is answered with a conflict.
type Simulator struct {
	mu          sync.Mutex
	devices     []Device
	latency     time.Duration
	settleAfter time.Duration
	declineRate float64
	rng         *rand.Rand
	byRef       map[string]*simTx
	byID        map[string]*simTx
	now         func() time.Time
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

func WithSimLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.latency = d }
}

func WithSettleAfter(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.settleAfter = d }
}

func WithDeclineRate(rate float64) SimulatorOption {
	return func(s *Simulator) { s.declineRate = rate }
}

func WithSimDevices(devices ...Device) SimulatorOption {
	return func(s *Simulator) { s.devices = devices }
}

func WithSimSeed(seed int64) SimulatorOption {
	return func(s *Simulator) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewSimulator creates a simulator with one active device by default.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		devices:     []Device{{Code: "SIM-001", Name: "Front desk", Active: true}},
		latency:     100 * time.Millisecond,
		settleAfter: 4 * time.Second,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		byRef:       make(map[string]*simTx),
		byID:        make(map[string]*simTx),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) device(code string) (Device, bool) {
	for _, d := range s.devices {
		if d.Code == code {
			return d, true
		}
	}
	return Device{}, false
}

// InitiatePurchase implements Client.
func (s *Simulator) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*InitiateResult, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.device(req.DeviceCode)
	if !ok {
		return &InitiateResult{Status: InitiateError, Message: fmt.Sprintf("unknown device %s", req.DeviceCode)}, nil
	}
	if !d.Active {
		return &InitiateResult{Status: InitiateError, Message: "Terminal is offline"}, nil
	}

	now := s.now()
	for _, tx := range s.byRef {
		if tx.deviceCode == req.DeviceCode && now.Before(tx.settleAt) {
			return &InitiateResult{Status: InitiateConflict, Message: "Terminal is busy"}, nil
		}
	}
	if existing, ok := s.byRef[req.Reference]; ok {
		return &InitiateResult{Status: InitiateConflict, TransactionID: existing.id, Message: "Duplicate invoice"}, nil
	}

	tx := &simTx{
		id:         "SIM-" + uuid.NewString()[:8],
		reference:  req.Reference,
		deviceCode: req.DeviceCode,
		declined:   s.rng.Float64() < s.declineRate,
		settleAt:   now.Add(s.settleAfter),
	}
	s.byRef[tx.reference] = tx
	s.byID[tx.id] = tx

	return &InitiateResult{Status: InitiateOK, TransactionID: tx.id}, nil
}

// CheckStatus implements Client.
func (s *Simulator) CheckStatus(ctx context.Context, _ string, idOrReference string) (*StatusResult, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[idOrReference]
	if !ok {
		tx, ok = s.byRef[idOrReference]
	}
	if !ok {
		return &StatusResult{Status: TxPending}, nil
	}

	switch {
	case s.now().Before(tx.settleAt):
		return &StatusResult{Status: TxPending, TransactionID: tx.id}, nil
	case tx.declined:
		return &StatusResult{Status: TxFailed, TransactionID: tx.id, Message: "Card declined"}, nil
	default:
		return &StatusResult{Status: TxCompleted, TransactionID: tx.id}, nil
	}
}

// CheckDeviceReadiness implements Client.
func (s *Simulator) CheckDeviceReadiness(ctx context.Context, deviceCode string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.device(deviceCode)
	return ok && d.Active, nil
}

// ListDevices implements Client.
func (s *Simulator) ListDevices(ctx context.Context) (*DeviceList, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := &DeviceList{Configured: len(s.devices) > 0}
	list.Devices = append(list.Devices, s.devices...)
	if len(s.devices) > 0 {
		list.DefaultDeviceCode = s.devices[0].Code
	}
	return list, nil
}
