package controller

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/gateway"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/cassiomorais/terminalpay/internal/service"
	"github.com/rs/zerolog"
)

// signatureHeaders are checked in order; processors differ in where they put the HMAC.
var signatureHeaders = []string{
	"Webhook-Signature",
	"X-Helcim-Signature",
	"X-Webhook-Signature",
	"Authorization",
	"X-Authorization",
}

// EventHandler applies processor notifications to sessions.
type EventHandler interface {
	HandleGatewayEvent(ctx context.Context, ev service.GatewayEvent) (*session.Session, error)
}

// WebhookController receives processor push notifications.
type WebhookController struct {
	events  EventHandler
	secret  string
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewWebhookController creates a WebhookController. metrics may be nil.
func NewWebhookController(events EventHandler, secret string, logger zerolog.Logger, metrics *observability.Metrics) *WebhookController {
	return &WebhookController{
		events:  events,
		secret:  secret,
		logger:  logger.With().Str("component", "webhook").Logger(),
		metrics: metrics,
	}
}

// Validate answers the processor's GET handshake when the webhook URL is registered.
func (h *WebhookController) Validate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "validation_successful",
		"message":  "Webhook endpoint is ready to receive terminal notifications",
		"endpoint": r.URL.Path,
	})
}

// Receive handles POST /webhooks/terminal
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.logger.Error().Msg("webhook secret not configured")
		h.record("not_configured")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook secret not configured", Code: "webhook_not_configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.record("invalid_payload")
		writeError(w, domainErrors.NewValidationError("body", "unreadable body"))
		return
	}

	if err := verifySignature(h.secret, body, r.Header); err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejected webhook")
		if errors.Is(err, domainErrors.ErrMissingSignature) {
			h.record("missing_signature")
		} else {
			h.record("invalid_signature")
		}
		writeError(w, err)
		return
	}

	var payload GatewayWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		h.record("invalid_payload")
		writeError(w, domainErrors.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}
	if payload.TransactionID == "" && payload.Reference == "" {
		h.record("invalid_payload")
		writeError(w, domainErrors.NewValidationError("transactionId", "required"))
		return
	}

	ev := service.GatewayEvent{
		Reference:     payload.Reference,
		TransactionID: payload.TransactionID,
		Status:        webhookStatus(payload.Status),
		Message:       payload.Message,
	}
	s, err := h.events.HandleGatewayEvent(r.Context(), ev)
	switch {
	case errors.Is(err, domainErrors.ErrSessionNotFound):
		// Acknowledge so the processor stops redelivering.
		h.logger.Info().Str("transaction_id", ev.TransactionID).Str("reference", ev.Reference).Msg("webhook for unknown session")
		h.record("unknown_session")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "transaction_id": ev.TransactionID})
		return
	case err != nil:
		h.logger.Error().Err(err).Str("transaction_id", ev.TransactionID).Msg("failed to apply webhook")
		h.record("error")
		writeError(w, err)
		return
	}

	h.logger.Info().
		Str("reference", s.Reference).
		Str("transaction_id", ev.TransactionID).
		Str("status", payload.Status).
		Str("state", string(s.State)).
		Msg("webhook applied")
	h.record("applied")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "received",
		"reference":      s.Reference,
		"transaction_id": ev.TransactionID,
		"state":          string(s.State),
	})
}

func (h *WebhookController) record(result string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(result).Inc()
	}
}

// webhookStatus maps the processor's status. Anything other than approved or
// pending is treated as a decline.
func webhookStatus(status string) gateway.TxStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "APPROVED":
		return gateway.TxCompleted
	case "PENDING":
		return gateway.TxPending
	default:
		return gateway.TxFailed
	}
}

// verifySignature checks the HMAC-SHA256 of body, accepted base64 or hex encoded.
func verifySignature(secret string, body []byte, header http.Header) error {
	var sig string
	for _, name := range signatureHeaders {
		if sig = header.Get(name); sig != "" {
			break
		}
	}
	if sig == "" {
		return domainErrors.ErrMissingSignature
	}
	sig = strings.TrimSpace(strings.TrimPrefix(sig, "Bearer "))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	if hmac.Equal([]byte(base64.StdEncoding.EncodeToString(sum)), []byte(sig)) {
		return nil
	}
	if raw, err := hex.DecodeString(sig); err == nil && hmac.Equal(raw, sum) {
		return nil
	}
	return domainErrors.ErrInvalidSignature
}
