package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusAccepted, StartPaymentResponse{Reference: "APT-1", State: "checking_device"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"reference":"APT-1","state":"checking_device","status_url":""}`, w.Body.String())
}

func TestWriteError_Mappings(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"session not found", domainErrors.ErrSessionNotFound, http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("get APT-1: %w", domainErrors.ErrSessionNotFound), http.StatusNotFound, "not_found"},
		{"reference concluded", domainErrors.ErrReferenceConcluded, http.StatusConflict, "reference_concluded"},
		{"invalid transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"invalid device code", domainErrors.ErrInvalidDeviceCode, http.StatusBadRequest, "invalid_device_code"},
		{"gateway timeout", domainErrors.ErrGatewayTimeout, http.StatusGatewayTimeout, "gateway_timeout"},
		{"gateway unavailable", fmt.Errorf("devices returned 502: %w", domainErrors.ErrGatewayUnavailable), http.StatusServiceUnavailable, "gateway_unavailable"},
		{"gateway bad response", domainErrors.ErrGatewayResponse, http.StatusBadGateway, "gateway_bad_response"},
		{"missing signature", domainErrors.ErrMissingSignature, http.StatusBadRequest, "missing_signature"},
		{"invalid signature", domainErrors.ErrInvalidSignature, http.StatusForbidden, "invalid_signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)
			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewValidationError("amount", "must be greater than 0"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_error", response.Code)
	assert.Contains(t, response.Error, "amount")
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewDomainError("terminal_busy", "terminal is busy", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "terminal_busy", response.Code)
}

func TestWriteError_UnknownErrorHidesDetail(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "internal_error", response.Code)
	assert.Equal(t, "internal server error", response.Error)
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid cents", `{"amount_cents":5000}`, ""},
		{"valid decimal", `{"amount":"50.00","currency":"CAD"}`, ""},
		{"invalid json", `{amount}`, "body"},
		{"unknown field", `{"amount_cents":5000,"surcharge":1}`, "body"},
		{"no amount", `{"currency":"USD"}`, "amount_cents"},
		{"non numeric amount", `{"amount":"fifty"}`, "amount"},
		{"negative tip", `{"amount_cents":5000,"tip_amount_cents":-1}`, "tip_amount_cents"},
		{"lowercase currency", `{"amount_cents":5000,"currency":"usd"}`, "currency"},
		{"long reference", `{"amount_cents":5000,"reference":"` + strings.Repeat("x", 65) + `"}`, "reference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/payments", strings.NewReader(tt.body))
			var dst StartPaymentRequest
			err := decodeAndValidate(req, &dst)

			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var ve *domainErrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestResolveCents(t *testing.T) {
	v, err := resolveCents("amount", 5000, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), v)

	v, err = resolveCents("amount", 0, "12.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), v)

	_, err = resolveCents("amount", 100, "1.00")
	var ve *domainErrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Field)
}
