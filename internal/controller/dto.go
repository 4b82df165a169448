package controller

import (
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/device"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/notifier"
	"github.com/cassiomorais/terminalpay/pkg/money"
)

// --- Request DTOs ---

// StartPaymentRequest starts a terminal payment. The amount is given either in
// minor units or as a decimal string, never both.
type StartPaymentRequest struct {
	Reference      string         `json:"reference" validate:"omitempty,max=64,printascii"`
	AmountCents    int64          `json:"amount_cents" validate:"required_without=Amount,gte=0"`
	Amount         string         `json:"amount" validate:"omitempty,numeric"`
	TipAmountCents int64          `json:"tip_amount_cents" validate:"gte=0"`
	TipAmount      string         `json:"tip_amount" validate:"omitempty,numeric"`
	Currency       string         `json:"currency" validate:"omitempty,len=3,uppercase"`
	DeviceCode     string         `json:"device_code" validate:"omitempty,max=64"`
	Metadata       map[string]any `json:"metadata"`
}

// GatewayWebhook is the processor's push notification body.
type GatewayWebhook struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Reference     string `json:"invoiceNumber,omitempty"`
	Message       string `json:"message,omitempty"`
}

// --- Response DTOs ---

// StartPaymentResponse is returned once the session exists.
type StartPaymentResponse struct {
	Reference string `json:"reference"`
	State     string `json:"state"`
	StatusURL string `json:"status_url"`
}

// OutcomeResponse is the merchant-facing result of a concluded session.
type OutcomeResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	DismissAfterMS int64  `json:"dismiss_after_ms,omitempty"`
}

// SessionResponse represents a payment session in API responses.
type SessionResponse struct {
	Reference      string           `json:"reference"`
	State          string           `json:"state"`
	Terminal       bool             `json:"terminal"`
	Total          string           `json:"total"`
	AmountCents    int64            `json:"amount_cents"`
	TipAmountCents int64            `json:"tip_amount_cents"`
	Currency       string           `json:"currency"`
	DeviceCode     string           `json:"device_code,omitempty"`
	TransactionID  string           `json:"transaction_id,omitempty"`
	Attempts       int              `json:"attempts"`
	MaxAttempts    int              `json:"max_attempts"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Outcome        *OutcomeResponse `json:"outcome,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	History        []EventResponse  `json:"history,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	LastUpdatedAt  time.Time        `json:"last_updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// EventResponse is one transition in a session's history.
type EventResponse struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Attempts      int       `json:"attempts"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	At            time.Time `json:"at"`
}

// DeviceResponse represents a terminal device.
type DeviceResponse struct {
	Code     string     `json:"code"`
	Name     string     `json:"name,omitempty"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ReadinessResponse is the result of a device readiness check.
type ReadinessResponse struct {
	DeviceCode string `json:"device_code"`
	Ready      bool   `json:"ready"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromSession converts a session to its API response. outcome is only
// consulted for terminal sessions and may be nil.
func FromSession(s *session.Session, history []*session.Event, outcome func(*session.Session) notifier.Outcome) *SessionResponse {
	resp := &SessionResponse{
		Reference:      s.Reference,
		State:          string(s.State),
		Terminal:       s.IsTerminal(),
		Total:          money.FormatCents(s.Total()),
		AmountCents:    s.Amount,
		TipAmountCents: s.TipAmount,
		Currency:       s.Currency,
		DeviceCode:     s.DeviceCode,
		TransactionID:  s.TransactionID,
		Attempts:       s.Attempts,
		MaxAttempts:    s.MaxAttempts,
		ErrorMessage:   s.ErrorMessage,
		Metadata:       s.Metadata,
		CreatedAt:      s.CreatedAt,
		LastUpdatedAt:  s.LastUpdatedAt,
		CompletedAt:    s.CompletedAt,
	}
	if s.IsTerminal() && outcome != nil {
		o := outcome(s)
		resp.Outcome = &OutcomeResponse{
			Code:           string(o.Code),
			Message:        o.Message,
			DismissAfterMS: o.DismissAfter.Milliseconds(),
		}
	}
	for _, e := range history {
		resp.History = append(resp.History, EventResponse{
			From:          string(e.FromState),
			To:            string(e.ToState),
			Attempts:      e.Attempts,
			TransactionID: e.TransactionID,
			Message:       e.Message,
			At:            e.CreatedAt,
		})
	}
	return resp
}

// FromDevice converts a registry device to its API response.
func FromDevice(d device.TerminalDevice) DeviceResponse {
	resp := DeviceResponse{Code: d.Code, Name: d.Name, Status: string(d.Status)}
	if !d.LastSeen.IsZero() {
		seen := d.LastSeen
		resp.LastSeen = &seen
	}
	return resp
}
