package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/terminalpay/internal/domain/idempotency"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/config"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/terminalpay/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Payments       PaymentService
	Outcomes       OutcomeBuilder
	Devices        DeviceService
	Events         EventHandler
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Dependencies   []Dependency
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	Server         config.ServerConfig
	JWTSecret      string
	WebhookSecret  string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing("terminalpay"))
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.SecurityHeaders())
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.Dependencies...)
	paymentH := NewPaymentController(deps.Payments, deps.Outcomes)
	deviceH := NewDeviceController(deps.Devices)
	webhookH := NewWebhookController(deps.Events, deps.WebhookSecret, deps.Logger, deps.Metrics)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// The processor signs its notifications; no bearer auth here.
	for _, path := range []string{"/webhooks/terminal", "/webhook/terminal"} {
		r.Get(path, webhookH.Validate)
		r.Post(path, webhookH.Receive)
	}

	r.Route("/api/v1/terminal", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.Server.RateLimit))
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
		}

		idempotent := func(next http.Handler) http.Handler { return next }
		if deps.Idempotency != nil {
			idempotent = customMW.Idempotency(deps.Idempotency, deps.IdempotencyTTL, deps.Logger)
		}

		r.With(idempotent).Post("/payments", paymentH.StartPayment)
		r.Get("/payments/{reference}", paymentH.GetPayment)
		r.With(idempotent).Post("/payments/{reference}/cancel", paymentH.CancelPayment)

		r.Get("/devices", deviceH.ListDevices)
		r.Get("/devices/{code}/readiness", deviceH.CheckReadiness)
	})

	return r
}
