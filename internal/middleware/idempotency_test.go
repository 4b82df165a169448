package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/idempotency"
	"github.com/cassiomorais/terminalpay/internal/repository/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func countingHandler(calls *int32, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"amount_cents":5000}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls int32
	h := Idempotency(memory.NewIdempotencyStore(), time.Hour, zerolog.Nop())(
		countingHandler(&calls, http.StatusAccepted, `{"reference":"APT-1"}`))

	first := post(h, "/api/v1/terminal/payments", "k-1")
	second := post(h, "/api/v1/terminal/payments", "k-1")

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.Empty(t, first.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_KeyScopedToRoute(t *testing.T) {
	var calls int32
	h := Idempotency(memory.NewIdempotencyStore(), time.Hour, zerolog.Nop())(
		countingHandler(&calls, http.StatusOK, `{}`))

	post(h, "/api/v1/terminal/payments/APT-1/cancel", "k-1")
	post(h, "/api/v1/terminal/payments/APT-2/cancel", "k-1")

	assert.Equal(t, int32(2), calls)
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	var calls int32
	h := Idempotency(memory.NewIdempotencyStore(), time.Hour, zerolog.Nop())(
		countingHandler(&calls, http.StatusAccepted, `{}`))

	post(h, "/api/v1/terminal/payments", "")
	post(h, "/api/v1/terminal/payments", "")

	assert.Equal(t, int32(2), calls)
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	var calls int32
	h := Idempotency(memory.NewIdempotencyStore(), time.Hour, zerolog.Nop())(
		countingHandler(&calls, http.StatusServiceUnavailable, `{"error":"unavailable"}`))

	post(h, "/api/v1/terminal/payments", "k-1")
	w := post(h, "/api/v1/terminal/payments", "k-1")

	assert.Equal(t, int32(2), calls)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIdempotency_ClientErrorsReplayed(t *testing.T) {
	var calls int32
	h := Idempotency(memory.NewIdempotencyStore(), time.Hour, zerolog.Nop())(
		countingHandler(&calls, http.StatusConflict, `{"code":"reference_concluded"}`))

	post(h, "/api/v1/terminal/payments", "k-1")
	w := post(h, "/api/v1/terminal/payments", "k-1")

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, http.StatusConflict, w.Code)
}

type failingIdempotencyStore struct{}

func (failingIdempotencyStore) Get(context.Context, string) (*idempotency.Entry, error) {
	return nil, errors.New("connection refused")
}

func (failingIdempotencyStore) Set(context.Context, *idempotency.Entry) error {
	return errors.New("connection refused")
}

func (failingIdempotencyStore) Cleanup(context.Context) (int64, error) { return 0, nil }

func TestIdempotency_StoreFailureServesRequest(t *testing.T) {
	var calls int32
	h := Idempotency(failingIdempotencyStore{}, time.Hour, zerolog.Nop())(
		countingHandler(&calls, http.StatusAccepted, `{}`))

	w := post(h, "/api/v1/terminal/payments", "k-1")

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, http.StatusAccepted, w.Code)
}
