package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/terminalpay/internal/domain/device"
	"github.com/go-chi/chi/v5"
)

// DeviceService lists terminals and checks their readiness.
type DeviceService interface {
	ListDevices(ctx context.Context) ([]device.TerminalDevice, error)
	CheckReadiness(ctx context.Context, code string) (bool, error)
}

// DeviceController handles terminal device HTTP requests.
type DeviceController struct {
	devices DeviceService
}

func NewDeviceController(devices DeviceService) *DeviceController {
	return &DeviceController{devices: devices}
}

// ListDevices handles GET /api/v1/terminal/devices
func (h *DeviceController) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, FromDevice(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": resp})
}

// CheckReadiness handles GET /api/v1/terminal/devices/{code}/readiness
func (h *DeviceController) CheckReadiness(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	ready, err := h.devices.CheckReadiness(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{DeviceCode: code, Ready: ready})
}
