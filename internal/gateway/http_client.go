package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/pkg/money"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// HTTPClient talks to the processor's terminal REST API.
type HTTPClient struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient creates a client for baseURL. timeout bounds every call.
func NewHTTPClient(baseURL, apiToken string, timeout time.Duration, opts ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// flexID accepts an identifier encoded as a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %s", string(b))
	}
	*f = flexID(n.String())
	return nil
}

// txEnvelope covers the id and status fields the processor uses across endpoints.
type txEnvelope struct {
	TransactionID flexID `json:"transactionId"`
	PaymentID     flexID `json:"paymentId"`
	InvoiceNumber flexID `json:"invoiceNumber"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Error         string `json:"error"`
}

// id returns the first non-empty identifier in precedence order.
func (e txEnvelope) id() string {
	for _, v := range []flexID{e.TransactionID, e.PaymentID, e.InvoiceNumber} {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

func (e txEnvelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

type purchaseBody struct {
	Reference  string         `json:"invoiceNumber"`
	Amount     string         `json:"amount"`
	TipAmount  string         `json:"tipAmount"`
	Currency   string         `json:"currency"`
	DeviceCode string         `json:"deviceCode"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type readinessBody struct {
	Ready  *bool  `json:"ready"`
	Status string `json:"status"`
}

type devicesBody struct {
	Configured        bool   `json:"configured"`
	DefaultDeviceCode string `json:"defaultDeviceCode"`
	Devices           []struct {
		Code   string `json:"code"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"devices"`
}

// NormalizeStatus maps the processor's status vocabulary onto TxStatus.
func NormalizeStatus(raw string) TxStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "completed", "complete", "succeeded", "success", "paid":
		return TxCompleted
	case "declined", "failed", "failure", "cancelled", "canceled", "error", "voided", "expired":
		return TxFailed
	default:
		return TxPending
	}
}

// InitiatePurchase implements Client.
func (h *HTTPClient) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*InitiateResult, error) {
	body := purchaseBody{
		Reference:  req.Reference,
		Amount:     money.FormatCents(req.Amount),
		TipAmount:  money.FormatCents(req.TipAmount),
		Currency:   req.Currency,
		DeviceCode: req.DeviceCode,
		Metadata:   req.Metadata,
	}

	status, raw, err := h.do(ctx, http.MethodPost, "/initiate", body)
	if err != nil {
		return nil, err
	}

	var env txEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && status < 300 {
			return nil, fmt.Errorf("decode initiate response: %w: %w", err, domainErrors.ErrGatewayResponse)
		}
	}

	switch {
	case status == http.StatusConflict, status == http.StatusLocked:
		return &InitiateResult{Status: InitiateConflict, TransactionID: env.id(), Message: env.message()}, nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return nil, fmt.Errorf("initiate returned %d: %w", status, domainErrors.ErrGatewayUnavailable)
	case status >= 400:
		return &InitiateResult{Status: InitiateError, Message: env.message()}, nil
	}

	switch strings.ToLower(env.Status) {
	case "conflict", "busy", "in_progress":
		return &InitiateResult{Status: InitiateConflict, TransactionID: env.id(), Message: env.message()}, nil
	case "error", "declined", "failed", "rejected":
		return &InitiateResult{Status: InitiateError, Message: env.message()}, nil
	}
	return &InitiateResult{Status: InitiateOK, TransactionID: env.id(), Message: env.message()}, nil
}

// CheckStatus implements Client. An unknown transaction is reported as pending
// with no id so attach polling keeps looking.
func (h *HTTPClient) CheckStatus(ctx context.Context, deviceCode, idOrReference string) (*StatusResult, error) {
	q := url.Values{}
	q.Set("deviceCode", deviceCode)
	q.Set("id", idOrReference)

	status, raw, err := h.do(ctx, http.MethodGet, "/status?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return &StatusResult{Status: TxPending}, nil
	case status >= 400:
		return nil, fmt.Errorf("status returned %d: %w", status, domainErrors.ErrGatewayUnavailable)
	}

	var env txEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode status response: %w: %w", err, domainErrors.ErrGatewayResponse)
	}
	return &StatusResult{
		Status:        NormalizeStatus(env.Status),
		TransactionID: env.id(),
		Message:       env.message(),
	}, nil
}

// CheckDeviceReadiness implements Client.
func (h *HTTPClient) CheckDeviceReadiness(ctx context.Context, deviceCode string) (bool, error) {
	status, raw, err := h.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceCode)+"/readiness", nil)
	if err != nil {
		return false, err
	}
	if status >= 400 {
		return false, nil
	}

	var body readinessBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return false, fmt.Errorf("decode readiness response: %w: %w", err, domainErrors.ErrGatewayResponse)
	}
	if body.Ready != nil {
		return *body.Ready, nil
	}
	s := strings.ToLower(body.Status)
	return s == "ready" || s == "active" || s == "online", nil
}

// ListDevices implements Client.
func (h *HTTPClient) ListDevices(ctx context.Context) (*DeviceList, error) {
	status, raw, err := h.do(ctx, http.MethodGet, "/devices", nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("devices returned %d: %w", status, domainErrors.ErrGatewayUnavailable)
	}

	var body devicesBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode devices response: %w: %w", err, domainErrors.ErrGatewayResponse)
	}

	list := &DeviceList{
		Configured:        body.Configured,
		DefaultDeviceCode: body.DefaultDeviceCode,
	}
	for _, d := range body.Devices {
		list.Devices = append(list.Devices, Device{
			Code:   d.Code,
			Name:   d.Name,
			Active: strings.EqualFold(d.Status, "active"),
		})
	}
	if list.DefaultDeviceCode == "" && len(list.Devices) > 0 {
		list.DefaultDeviceCode = list.Devices[0].Code
	}
	return list, nil
}

// do performs one request and returns the status code and body.
// Only transport failures are returned as errors.
func (h *HTTPClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api-token", h.apiToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, fmt.Errorf("%s %s: %w", method, path, domainErrors.ErrGatewayTimeout)
		}
		return 0, nil, fmt.Errorf("%s %s: %w: %w", method, path, err, domainErrors.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
