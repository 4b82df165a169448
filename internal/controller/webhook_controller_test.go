package controller

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(body string) []byte {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

func signBase64(body string) string { return base64.StdEncoding.EncodeToString(sign(body)) }

func signHex(body string) string { return hex.EncodeToString(sign(body)) }

// pollingSession starts a payment whose initiate returned txID and waits for polling.
func pollingSession(t *testing.T, f *apiFixture, ref, txID string) {
	t.Helper()
	f.gw.InitiateFunc = initiateWithID(txID)
	w := f.do(t, http.MethodPost, "/api/v1/terminal/payments", map[string]any{"reference": ref, "amount_cents": 5000}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	f.eventuallyIn(t, ref, session.StatePolling)
}

func TestWebhook_ValidationHandshake(t *testing.T) {
	f := setupAPI(t)

	for _, path := range []string{"/webhooks/terminal", "/webhook/terminal"} {
		w := f.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[map[string]string](t, w)
		assert.Equal(t, "validation_successful", resp["status"])
		assert.Equal(t, path, resp["endpoint"])
	}
}

func TestWebhook_ApprovedCompletesSession(t *testing.T) {
	f := setupAPI(t)
	pollingSession(t, f, "APT-20", "T-20")

	body := `{"transactionId":"T-20","status":"APPROVED"}`
	w := f.do(t, http.MethodPost, "/webhooks/terminal", body, map[string]string{"Webhook-Signature": signBase64(body)})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "received", resp["status"])
	assert.Equal(t, "APT-20", resp["reference"])
	assert.Equal(t, "succeeded", resp["state"])
	assert.Equal(t, session.StateSucceeded, f.session(t, "APT-20").State)
	assert.Equal(t, float64(1), promtest.ToFloat64(f.metrics.WebhookEvents.WithLabelValues("applied")))
}

func TestWebhook_DeclinedViaLegacyPathWithHexBearer(t *testing.T) {
	f := setupAPI(t)
	pollingSession(t, f, "APT-21", "T-21")

	body := `{"transactionId":"T-21","status":"DECLINED"}`
	w := f.do(t, http.MethodPost, "/webhook/terminal", body, map[string]string{"Authorization": "Bearer " + signHex(body)})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := f.session(t, "APT-21")
	assert.Equal(t, session.StateFailed, s.State)
	assert.Equal(t, session.MsgPaymentDeclined, s.ErrorMessage)
}

func TestWebhook_SignatureHeaders(t *testing.T) {
	body := `{"transactionId":"T-x","status":"APPROVED"}`
	for _, header := range signatureHeaders {
		t.Run(header, func(t *testing.T) {
			h := http.Header{}
			h.Set(header, signBase64(body))
			assert.NoError(t, verifySignature(testWebhookSecret, []byte(body), h))
		})
	}

	t.Run("uppercase hex", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Webhook-Signature", "Bearer "+strings.ToUpper(signHex(body)))
		assert.NoError(t, verifySignature(testWebhookSecret, []byte(body), h))
	})

	t.Run("tampered body", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Helcim-Signature", signBase64(body))
		assert.Error(t, verifySignature(testWebhookSecret, []byte(body+" "), h))
	})
}

func TestWebhook_Rejections(t *testing.T) {
	body := `{"transactionId":"T-1","status":"APPROVED"}`
	tests := []struct {
		name       string
		secret     string
		headers    map[string]string
		body       string
		wantStatus int
		wantResult string
	}{
		{"missing signature", testWebhookSecret, nil, body, http.StatusBadRequest, "missing_signature"},
		{"wrong signature", testWebhookSecret, map[string]string{"Webhook-Signature": signBase64("other")}, body, http.StatusForbidden, "invalid_signature"},
		{"secret not configured", "", map[string]string{"Webhook-Signature": signBase64(body)}, body, http.StatusInternalServerError, "not_configured"},
		{"invalid json", testWebhookSecret, map[string]string{"Webhook-Signature": signBase64("{")}, "{", http.StatusBadRequest, "invalid_payload"},
		{"no identifiers", testWebhookSecret, map[string]string{"Webhook-Signature": signBase64(`{"status":"APPROVED"}`)}, `{"status":"APPROVED"}`, http.StatusBadRequest, "invalid_payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t, func(d *RouterDeps) { d.WebhookSecret = tt.secret })
			w := f.do(t, http.MethodPost, "/webhooks/terminal", tt.body, tt.headers)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, float64(1), promtest.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(tt.wantResult)))
		})
	}
}

func TestWebhook_UnknownSessionAcknowledged(t *testing.T) {
	f := setupAPI(t)
	body := `{"transactionId":"T-unknown","status":"APPROVED"}`

	w := f.do(t, http.MethodPost, "/webhooks/terminal", body, map[string]string{"Webhook-Signature": signBase64(body)})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode[map[string]string](t, w)["status"])
	assert.Equal(t, float64(1), promtest.ToFloat64(f.metrics.WebhookEvents.WithLabelValues("unknown_session")))
}

func TestWebhook_ConcludedSessionUnchanged(t *testing.T) {
	f := setupAPI(t)
	_, err := testutil.SeedSession(context.Background(), f.store, testutil.NewTestSession("APT-22", 5000, "D1", 60),
		session.StateCheckingDevice, session.StateCancelled)
	require.NoError(t, err)

	body := `{"transactionId":"T-22","invoiceNumber":"APT-22","status":"APPROVED"}`
	w := f.do(t, http.MethodPost, "/webhooks/terminal", body, map[string]string{"Webhook-Signature": signBase64(body)})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode[map[string]string](t, w)["state"])
}

func TestWebhookStatus(t *testing.T) {
	assert.Equal(t, "completed", string(webhookStatus("APPROVED")))
	assert.Equal(t, "completed", string(webhookStatus(" approved ")))
	assert.Equal(t, "pending", string(webhookStatus("PENDING")))
	assert.Equal(t, "failed", string(webhookStatus("DECLINED")))
	assert.Equal(t, "failed", string(webhookStatus("")))
}
