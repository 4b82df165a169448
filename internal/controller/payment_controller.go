package controller

import (
	"context"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/middleware"
	"github.com/cassiomorais/terminalpay/internal/notifier"
	"github.com/cassiomorais/terminalpay/internal/service"
	"github.com/cassiomorais/terminalpay/pkg/money"
	"github.com/go-chi/chi/v5"
)

// PaymentService is the orchestration surface the payment endpoints use.
type PaymentService interface {
	StartPayment(ctx context.Context, req service.StartRequest) (string, error)
	CancelPayment(ctx context.Context, reference string) error
	GetSessionStatus(ctx context.Context, reference string) (*session.Session, error)
	GetSessionHistory(ctx context.Context, reference string) ([]*session.Event, error)
}

// OutcomeBuilder renders the merchant-facing result of a concluded session.
type OutcomeBuilder interface {
	OutcomeFor(s *session.Session) notifier.Outcome
}

// PaymentController handles terminal payment HTTP requests.
type PaymentController struct {
	payments PaymentService
	outcomes OutcomeBuilder
}

// NewPaymentController creates a new PaymentController. outcomes may be nil.
func NewPaymentController(payments PaymentService, outcomes OutcomeBuilder) *PaymentController {
	return &PaymentController{payments: payments, outcomes: outcomes}
}

// StartPayment handles POST /api/v1/terminal/payments
func (h *PaymentController) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req StartPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	amount, err := resolveCents("amount", req.AmountCents, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	tip, err := resolveCents("tip_amount", req.TipAmountCents, req.TipAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	reference := req.Reference
	if reference == "" {
		reference = r.Header.Get("Idempotency-Key")
		if err := validate.Var(reference, "omitempty,max=64,printascii"); err != nil {
			writeError(w, domainErrors.NewValidationError("Idempotency-Key", "must be at most 64 printable characters"))
			return
		}
	}

	metadata := req.Metadata
	if staff, ok := middleware.StaffID(r.Context()); ok {
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata["staff_id"] = staff
		if loc, ok := middleware.LocationID(r.Context()); ok {
			metadata["location_id"] = loc
		}
	}

	ref, err := h.payments.StartPayment(r.Context(), service.StartRequest{
		Reference:  reference,
		Amount:     amount,
		TipAmount:  tip,
		Currency:   req.Currency,
		DeviceCode: req.DeviceCode,
		Metadata:   metadata,
		Source:     "api",
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := StartPaymentResponse{Reference: ref, StatusURL: "/api/v1/terminal/payments/" + ref}
	if s, err := h.payments.GetSessionStatus(r.Context(), ref); err == nil {
		resp.State = string(s.State)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetPayment handles GET /api/v1/terminal/payments/{reference}
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	s, err := h.payments.GetSessionStatus(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.payments.GetSessionHistory(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSession(s, history, h.outcomeFunc()))
}

// CancelPayment handles POST /api/v1/terminal/payments/{reference}/cancel
func (h *PaymentController) CancelPayment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	if err := h.payments.CancelPayment(r.Context(), ref); err != nil {
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: "payment already concluded", Code: "already_concluded"})
			return
		}
		writeError(w, err)
		return
	}

	s, err := h.payments.GetSessionStatus(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSession(s, nil, h.outcomeFunc()))
}

func (h *PaymentController) outcomeFunc() func(*session.Session) notifier.Outcome {
	if h.outcomes == nil {
		return nil
	}
	return h.outcomes.OutcomeFor
}

// resolveCents picks the minor-unit or decimal form of an amount.
func resolveCents(field string, cents int64, decimal string) (int64, error) {
	if decimal == "" {
		return cents, nil
	}
	if cents != 0 {
		return 0, domainErrors.NewValidationError(field, "give either the cents or the decimal form, not both")
	}
	v, err := money.ParseCents(decimal)
	if err != nil {
		return 0, domainErrors.NewValidationError(field, err.Error())
	}
	return v, nil
}
