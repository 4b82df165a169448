package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/device"
	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/gateway"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type deviceSnapshot struct {
	configured  bool
	defaultCode string
	devices     map[string]device.TerminalDevice
	order       []string
	fetchedAt   time.Time
}

// DeviceRegistry resolves available terminals and checks their readiness.
// The gateway's device list is cached for ttl; concurrent misses share one fetch.
type DeviceRegistry struct {
	client  gateway.Client
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	snap  *deviceSnapshot
}

// NewDeviceRegistry creates a registry. metrics may be nil.
func NewDeviceRegistry(client gateway.Client, ttl time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *DeviceRegistry {
	return &DeviceRegistry{
		client:  client,
		ttl:     ttl,
		logger:  logger.With().Str("component", "device_registry").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

func (r *DeviceRegistry) snapshot(ctx context.Context) (*deviceSnapshot, error) {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()
	if snap != nil && r.now().Sub(snap.fetchedAt) < r.ttl {
		return snap, nil
	}

	v, err, _ := r.group.Do("devices", func() (any, error) {
		list, err := r.client.ListDevices(ctx)
		if err != nil {
			return nil, err
		}
		return r.store(list), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return v.(*deviceSnapshot), nil
}

func (r *DeviceRegistry) store(list *gateway.DeviceList) *deviceSnapshot {
	now := r.now()
	snap := &deviceSnapshot{
		configured:  list.Configured,
		defaultCode: list.DefaultDeviceCode,
		devices:     make(map[string]device.TerminalDevice, len(list.Devices)),
		fetchedAt:   now,
	}
	if list.Configured {
		for _, d := range list.Devices {
			status := device.StatusUnavailable
			if d.Active {
				status = device.StatusActive
			}
			snap.devices[d.Code] = device.TerminalDevice{Code: d.Code, Name: d.Name, Status: status, LastSeen: now}
			snap.order = append(snap.order, d.Code)
		}
		if snap.defaultCode != "" {
			if _, ok := snap.devices[snap.defaultCode]; !ok {
				snap.devices[snap.defaultCode] = device.TerminalDevice{Code: snap.defaultCode, Status: device.StatusActive, LastSeen: now}
				snap.order = append([]string{snap.defaultCode}, snap.order...)
			}
		}
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return snap
}

// ListDevices returns the currently known devices. An unconfigured gateway
// yields an empty slice and no error.
func (r *DeviceRegistry) ListDevices(ctx context.Context) ([]device.TerminalDevice, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]device.TerminalDevice, 0, len(snap.order))
	for _, code := range snap.order {
		out = append(out, snap.devices[code])
	}
	return out, nil
}

// DefaultDevice returns the device code to use when the caller names none.
func (r *DeviceRegistry) DefaultDevice(ctx context.Context) (string, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if !snap.configured || len(snap.order) == 0 {
		return "", domainErrors.ErrNoDevicesConfigured
	}
	if snap.defaultCode != "" {
		return snap.defaultCode, nil
	}
	return snap.order[0], nil
}

// CheckReadiness asks the gateway about the device. Network failures and explicit not-ready
// answers both yield false; only a malformed device code is an error.
func (r *DeviceRegistry) CheckReadiness(ctx context.Context, code string) (bool, error) {
	if strings.TrimSpace(code) == "" {
		return false, domainErrors.ErrInvalidDeviceCode
	}

	ready, err := r.client.CheckDeviceReadiness(ctx, code)
	result := "ready"
	switch {
	case err != nil:
		r.logger.Warn().Err(err).Str("device_code", code).Msg("readiness check failed")
		ready = false
		result = "error"
	case !ready:
		result = "not_ready"
	}
	if r.metrics != nil {
		r.metrics.DeviceReadiness.WithLabelValues(result).Inc()
	}

	r.mu.Lock()
	if r.snap != nil {
		d, ok := r.snap.devices[code]
		if !ok {
			d = device.TerminalDevice{Code: code}
			r.snap.order = append(r.snap.order, code)
		}
		d.Status = device.StatusUnavailable
		if ready {
			d.Status = device.StatusActive
		}
		d.LastSeen = r.now()
		r.snap.devices[code] = d
	}
	r.mu.Unlock()

	return ready, nil
}

// Invalidate drops the cached device list.
func (r *DeviceRegistry) Invalidate() {
	r.mu.Lock()
	r.snap = nil
	r.mu.Unlock()
}
