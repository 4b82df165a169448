package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/gateway"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/config"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/cassiomorais/terminalpay/internal/notifier"
	"github.com/cassiomorais/terminalpay/internal/repository/memory"
	"github.com/cassiomorais/terminalpay/internal/service"
	"github.com/cassiomorais/terminalpay/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec-test"

type apiFixture struct {
	router   http.Handler
	orch     *service.Orchestrator
	store    *memory.SessionStore
	gw       *testutil.MockGateway
	metrics  *observability.Metrics
	registry *prometheus.Registry
}

// setupAPI wires the router to a real orchestrator over an in-memory store
// and a scripted gateway. Polling is slow enough that sessions rest in polling.
func setupAPI(t *testing.T, tweak ...func(*RouterDeps)) *apiFixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	store := memory.NewSessionStore()
	gw := testutil.NewMockGateway()
	devices := service.NewDeviceRegistry(gw, time.Minute, zerolog.Nop(), metrics)
	n := notifier.New(3*time.Second, zerolog.Nop(), metrics)

	orch := service.NewOrchestrator(store, devices, gw, n, service.OrchestratorConfig{
		PollInterval: time.Hour,
		MaxAttempts:  60,
		CallTimeout:  time.Second,
		Currency:     "USD",
	}, zerolog.Nop(), service.WithMetrics(metrics))
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	deps := RouterDeps{
		Payments:       orch,
		Outcomes:       n,
		Devices:        devices,
		Events:         orch,
		Idempotency:    memory.NewIdempotencyStore(),
		IdempotencyTTL: time.Hour,
		Metrics:        metrics,
		Gatherer:       reg,
		Logger:         zerolog.Nop(),
		Server:         config.ServerConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		WebhookSecret:  testWebhookSecret,
	}
	for _, f := range tweak {
		f(&deps)
	}

	return &apiFixture{router: NewRouter(deps), orch: orch, store: store, gw: gw, metrics: metrics, registry: reg}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) eventuallyIn(t *testing.T, ref string, state session.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := f.store.Get(context.Background(), ref)
		return err == nil && s.State == state
	}, 2*time.Second, 5*time.Millisecond)
}

func (f *apiFixture) session(t *testing.T, ref string) *session.Session {
	t.Helper()
	s, err := f.store.Get(context.Background(), ref)
	require.NoError(t, err)
	return s
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func initiateWithID(txID string) func(context.Context, gateway.PurchaseRequest) (*gateway.InitiateResult, error) {
	return func(context.Context, gateway.PurchaseRequest) (*gateway.InitiateResult, error) {
		return &gateway.InitiateResult{Status: gateway.InitiateOK, TransactionID: txID}, nil
	}
}
