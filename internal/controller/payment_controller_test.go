package controller

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/middleware"
	"github.com/cassiomorais/terminalpay/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPayment_Accepted(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{
		"reference":    "APT-100",
		"amount_cents": 5000,
		"metadata":     map[string]any{"appointment_id": "A-9"},
	}, nil)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[StartPaymentResponse](t, w)
	assert.Equal(t, "APT-100", resp.Reference)
	assert.Equal(t, "/api/v1/terminal/payments/APT-100", resp.StatusURL)
	assert.NotEmpty(t, resp.State)

	f.eventuallyIn(t, "APT-100", session.StatePolling)
	s := f.session(t, "APT-100")
	assert.Equal(t, int64(5000), s.Amount)
	assert.Equal(t, "USD", s.Currency)
	assert.Equal(t, "A-9", s.Metadata["appointment_id"])
}

func TestStartPayment_DecimalAmounts(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{
		"reference":  "APT-101",
		"amount":     "50.00",
		"tip_amount": "7.5",
		"currency":   "CAD",
	}, nil)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s := f.session(t, "APT-101")
	assert.Equal(t, int64(5000), s.Amount)
	assert.Equal(t, int64(750), s.TipAmount)
	assert.Equal(t, "CAD", s.Currency)

	f.eventuallyIn(t, "APT-101", session.StatePolling)
	assert.Equal(t, 1, f.gw.InitiateCount())
}

func TestStartPayment_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"both amount forms", `{"amount_cents":5000,"amount":"50.00"}`},
		{"no amount", `{"reference":"APT-1"}`},
		{"zero decimal", `{"amount":"0.00"}`},
		{"malformed json", `{"amount_cents":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t)
			w := f.do(t, http.MethodPost, "/api/v1/terminal/payments", tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "validation_error", decode[ErrorResponse](t, w).Code)
			assert.Zero(t, f.gw.InitiateCount())
		})
	}
}

func TestStartPayment_IdempotencyKeyBecomesReference(t *testing.T) {
	f := setupAPI(t)
	headers := map[string]string{"Idempotency-Key": "checkout-77"}
	body := map[string]any{"amount_cents": 2500}

	first := f.do(t, http.MethodPost, "/api/v1/terminal/payments", body, headers)
	second := f.do(t, http.MethodPost, "/api/v1/terminal/payments", body, headers)

	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, "checkout-77", decode[StartPaymentResponse](t, first).Reference)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))

	f.eventuallyIn(t, "checkout-77", session.StatePolling)
	assert.Equal(t, 1, f.gw.InitiateCount())
}

func TestStartPayment_ConcludedReference(t *testing.T) {
	f := setupAPI(t)
	_, err := testutil.SeedSession(context.Background(), f.store,
		testutil.NewTestSession("APT-5", 5000, "D1", 60), session.StateCheckingDevice, session.StateCancelled)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{"reference": "APT-5", "amount_cents": 5000}, nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "reference_concluded", decode[ErrorResponse](t, w).Code)
}

func TestGetPayment_InFlight(t *testing.T) {
	f := setupAPI(t)
	f.gw.InitiateFunc = initiateWithID("T-1")
	f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{"reference": "APT-6", "amount_cents": 4000, "tip_amount_cents": 600}, nil)
	f.eventuallyIn(t, "APT-6", session.StatePolling)

	w := f.do(t, http.MethodGet, "/api/v1/terminal/payments/APT-6", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SessionResponse](t, w)
	assert.Equal(t, "polling", resp.State)
	assert.False(t, resp.Terminal)
	assert.Equal(t, "46.00", resp.Total)
	assert.Equal(t, "T-1", resp.TransactionID)
	assert.Nil(t, resp.Outcome)
	require.NotEmpty(t, resp.History)
	assert.Equal(t, "idle", resp.History[0].To)
	assert.Equal(t, "polling", resp.History[len(resp.History)-1].To)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestGetPayment_SucceededCarriesDismissHint(t *testing.T) {
	f := setupAPI(t)
	_, err := testutil.SeedSession(context.Background(), f.store, testutil.NewTestSession("APT-7", 5000, "D1", 60),
		session.StateCheckingDevice, session.StateInitiating, session.StatePolling, session.StateSucceeded)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/terminal/payments/APT-7", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SessionResponse](t, w)
	assert.True(t, resp.Terminal)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, "succeeded", resp.Outcome.Code)
	assert.Equal(t, int64(3000), resp.Outcome.DismissAfterMS)
	assert.NotNil(t, resp.CompletedAt)
}

func TestGetPayment_NotFound(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodGet, "/api/v1/terminal/payments/nope", nil, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Code)
}

func TestCancelPayment(t *testing.T) {
	f := setupAPI(t)
	f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{"reference": "APT-8", "amount_cents": 5000}, nil)
	f.eventuallyIn(t, "APT-8", session.StatePolling)

	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments/APT-8/cancel", nil, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[SessionResponse](t, w)
	assert.Equal(t, "cancelled", resp.State)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, "cancelled", resp.Outcome.Code)
	assert.Contains(t, resp.Outcome.Message, "reconciled manually")

	again := f.do(t, http.MethodPost, "/api/v1/terminal/payments/APT-8/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "already_concluded", decode[ErrorResponse](t, again).Code)
}

func TestCancelPayment_NotFound(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments/missing/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentRoutes_RequireAuthWhenConfigured(t *testing.T) {
	const secret = "an-api-secret-of-at-least-32-chars!!"
	f := setupAPI(t, func(d *RouterDeps) { d.JWTSecret = secret })

	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{"amount_cents": 5000}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		StaffID:    "staff-3",
		LocationID: "downtown",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/api/v1/terminal/payments",
		map[string]any{"reference": "APT-9", "amount_cents": 5000},
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	s := f.session(t, "APT-9")
	assert.Equal(t, "staff-3", s.Metadata["staff_id"])
	assert.Equal(t, "downtown", s.Metadata["location_id"])

	// Webhooks are signed by the processor and bypass bearer auth.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/webhooks/terminal", nil, nil).Code)
}
