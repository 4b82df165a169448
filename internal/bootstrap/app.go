package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cassiomorais/terminalpay/internal/controller"
	"github.com/cassiomorais/terminalpay/internal/domain/idempotency"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/gateway"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/config"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/terminalpay/internal/infrastructure/redis"
	"github.com/cassiomorais/terminalpay/internal/notifier"
	"github.com/cassiomorais/terminalpay/internal/repository/memory"
	"github.com/cassiomorais/terminalpay/internal/repository/postgres"
	"github.com/cassiomorais/terminalpay/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App holds the wired process: stores, gateway, orchestration and telemetry.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Pool is nil with the memory store; Redis is nil when disabled.
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Sessions     session.Store
	Idempotency  idempotency.Store
	Gateway      *gateway.BreakerClient
	Devices      *service.DeviceRegistry
	Notifier     *notifier.Notifier
	Orchestrator *service.Orchestrator
	Reconciler   *service.Reconciler

	shutdownTracer func(context.Context) error
}

// New loads configuration from file and environment and wires the app.
func New(ctx context.Context, serviceName, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg, serviceName, metricsNamespace, os.Stdout)
}

// NewWithConfig wires the app from cfg, logging to out.
func NewWithConfig(ctx context.Context, cfg *config.Config, serviceName, metricsNamespace string, out io.Writer) (*App, error) {
	logger := observability.InitLogger(cfg.Observability.LogLevel, serviceName, cfg.InstanceID, out)
	logger.Info().Str("store", cfg.Store.Driver).Str("gateway", cfg.Gateway.Mode).Msg("Starting")

	a := &App{Config: cfg, Logger: logger}

	shutdown, err := observability.InitTracer(serviceName, cfg.InstanceID, cfg.Observability.JaegerEndpoint, cfg.Observability.EnableTracing)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	} else {
		a.shutdownTracer = shutdown
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = observability.NewMetrics(metricsNamespace, a.Registry)

	if err := a.initStores(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	if cfg.Redis.Enabled {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			a.Close(context.Background())
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.Redis = client
		logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")
	}

	a.Gateway = gateway.NewBreakerClient(newGatewayClient(cfg), gateway.BreakerSettings{
		Name:         "terminal-gateway",
		MaxRequests:  cfg.CircuitBreaker.MaxRequests,
		Interval:     cfg.CircuitBreaker.Interval,
		Timeout:      cfg.CircuitBreaker.Timeout,
		MinRequests:  cfg.CircuitBreaker.MinRequests,
		FailureRatio: cfg.CircuitBreaker.FailureRatio,
	}, a.Metrics)
	a.Devices = service.NewDeviceRegistry(a.Gateway, cfg.Terminal.DeviceCacheTTL, logger, a.Metrics)

	sinks := []notifier.Sink{notifier.NewLogSink(logger)}
	if a.Redis != nil {
		sinks = append(sinks, notifier.NewStreamSink(infraRedis.NewStreamProducer(a.Redis), cfg.Redis.OutcomeStream))
	}
	a.Notifier = notifier.New(cfg.Terminal.AutoDismiss, logger, a.Metrics, sinks...)

	opts := []service.OrchestratorOption{service.WithMetrics(a.Metrics)}
	if a.Redis != nil {
		opts = append(opts, service.WithRunGuard(infraRedis.NewRunGuard(a.Redis, cfg.Terminal.RunGuardLease())))
	}
	a.Orchestrator = service.NewOrchestrator(a.Sessions, a.Devices, a.Gateway, a.Notifier, service.OrchestratorConfig{
		PollInterval: cfg.Terminal.PollInterval,
		MaxAttempts:  cfg.Terminal.MaxAttempts,
		CallTimeout:  cfg.Terminal.CallTimeout,
		Currency:     cfg.Terminal.Currency,
	}, logger, opts...)
	a.Reconciler = service.NewReconciler(a.Sessions, a.Orchestrator, cfg.Worker.StaleAfter, cfg.Worker.BatchSize, logger, a.Metrics)

	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	if a.Config.Store.Driver != "postgres" {
		a.Sessions = memory.NewSessionStore()
		a.Idempotency = memory.NewIdempotencyStore()
		a.Logger.Warn().Msg("Using in-memory session store; sessions do not survive a restart")
		return nil
	}

	pool, err := postgres.NewPool(ctx, &a.Config.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.Pool = pool
	a.Sessions = postgres.NewSessionRepository(pool, postgres.NewTxManager(pool))
	a.Idempotency = postgres.NewIdempotencyRepository(pool)
	a.Logger.Info().Str("host", a.Config.Database.Host).Msg("Connected to PostgreSQL")
	return nil
}

func newGatewayClient(cfg *config.Config) gateway.Client {
	if cfg.Gateway.Mode == "http" {
		return gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIToken, cfg.Terminal.CallTimeout)
	}
	opts := []gateway.SimulatorOption{
		gateway.WithSimLatency(cfg.Gateway.SimLatency),
		gateway.WithDeclineRate(cfg.Gateway.SimDeclines),
	}
	if cfg.Gateway.SimSettle > 0 {
		opts = append(opts, gateway.WithSettleAfter(cfg.Gateway.SimSettle))
	}
	return gateway.NewSimulator(opts...)
}

// Router builds the HTTP API over the wired services.
func (a *App) Router() *chi.Mux {
	var deps []controller.Dependency
	if a.Pool != nil {
		deps = append(deps, controller.Dependency{Name: "database", Ping: a.Pool.Ping})
	}
	if a.Redis != nil {
		deps = append(deps, controller.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}})
	}

	return controller.NewRouter(controller.RouterDeps{
		Payments:       a.Orchestrator,
		Outcomes:       a.Notifier,
		Devices:        a.Devices,
		Events:         a.Orchestrator,
		Idempotency:    a.Idempotency,
		IdempotencyTTL: a.Config.Worker.IdempotencyTTL,
		Dependencies:   deps,
		Metrics:        a.Metrics,
		Gatherer:       a.Registry,
		Logger:         a.Logger,
		Server:         a.Config.Server,
		JWTSecret:      a.Config.Auth.JWTSecret,
		WebhookSecret:  a.Config.Gateway.WebhookSecret,
	})
}

// RunBackground runs the reconciler and idempotency-key cleanup until ctx is done.
func (a *App) RunBackground(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().
			Dur("interval", a.Config.Worker.ReconcileInterval).
			Dur("stale_after", a.Config.Worker.StaleAfter).
			Msg("Reconciler started")
		return a.Reconciler.Run(gCtx, a.Config.Worker.ReconcileInterval)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				n, err := a.Idempotency.Cleanup(gCtx)
				if err != nil {
					a.Logger.Error().Err(err).Msg("Idempotency cleanup failed")
					continue
				}
				if n > 0 {
					a.Logger.Info().Int64("removed", n).Msg("Expired idempotency keys removed")
				}
			}
		}
	})

	return g.Wait()
}

// Close stops orchestration and releases connections. In-flight sessions stay
// resumable by the reconciler.
func (a *App) Close(ctx context.Context) {
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Orchestrator runs still active at shutdown")
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
