package device

import "time"

// Status represents the readiness of a terminal device
type Status string

const (
	StatusActive      Status = "active"
	StatusUnavailable Status = "unavailable"
)

// TerminalDevice is a physical card terminal known to the gateway.
// Devices are re-derived from the gateway and never persisted.
type TerminalDevice struct {
	Code     string
	Name     string
	Status   Status
	LastSeen time.Time
}

// IsActive reports whether the device last reported ready.
func (d TerminalDevice) IsActive() bool {
	return d.Status == StatusActive
}
