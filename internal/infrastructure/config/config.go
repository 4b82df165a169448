package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Store          StoreConfig          `mapstructure:"store"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Terminal       TerminalConfig       `mapstructure:"terminal"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Auth           AuthConfig           `mapstructure:"auth"`
	InstanceID     string               `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

// StoreConfig selects the session store backend: "memory" or "postgres".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	OutcomeStream     string        `mapstructure:"outcome_stream"`
}

// TerminalConfig holds orchestration policy.
type TerminalConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	DeviceCacheTTL time.Duration `mapstructure:"device_cache_ttl"`
	AutoDismiss    time.Duration `mapstructure:"auto_dismiss"`
	Currency       string        `mapstructure:"currency"`
	RunGuardTTL    time.Duration `mapstructure:"run_guard_ttl"`
}

// GatewayConfig selects and configures the processor client.
// Mode is "http" or "simulator".
type GatewayConfig struct {
	Mode          string        `mapstructure:"mode"`
	BaseURL       string        `mapstructure:"base_url"`
	APIToken      string        `mapstructure:"api_token"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	SimLatency    time.Duration `mapstructure:"sim_latency"`
	SimDeclines   float64       `mapstructure:"sim_decline_rate"`
	SimSettle     time.Duration `mapstructure:"sim_settle_after"`
}

type CircuitBreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type WorkerConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	BatchSize         int           `mapstructure:"batch_size"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
	// Embedded runs the reconciler inside the API process.
	Embedded bool `mapstructure:"embedded"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. TERMINALPAY_TERMINAL_POLL_INTERVAL
	v.SetEnvPrefix("TERMINALPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/terminalpay")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory or postgres, got %q", c.Store.Driver))
	}

	if c.Redis.Enabled && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	// Terminal policy
	if c.Terminal.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("terminal.poll_interval must be positive"))
	}
	if c.Terminal.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("terminal.max_attempts must be at least 1, got %d", c.Terminal.MaxAttempts))
	}
	if c.Terminal.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("terminal.call_timeout must be positive"))
	}
	if c.Terminal.DeviceCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("terminal.device_cache_ttl cannot be negative"))
	}
	if len(c.Terminal.Currency) != 3 {
		errs = append(errs, fmt.Errorf("terminal.currency must be a 3-letter ISO code"))
	}

	switch c.Gateway.Mode {
	case "simulator":
	case "http":
		if c.Gateway.BaseURL == "" {
			errs = append(errs, fmt.Errorf("gateway.base_url is required in http mode"))
		}
		if c.Gateway.APIToken == "" {
			errs = append(errs, fmt.Errorf("gateway.api_token is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("gateway.mode must be http or simulator, got %q", c.Gateway.Mode))
	}

	if c.CircuitBreaker.FailureRatio <= 0 || c.CircuitBreaker.FailureRatio > 1 {
		errs = append(errs, fmt.Errorf("circuit_breaker.failure_ratio must be in (0, 1]"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.reconcile_interval must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Store.Driver == "postgres" && c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Gateway.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("gateway.webhook_secret required in production"))
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

// RunGuardLease returns the per-reference run lock TTL. The lock is refreshed
// while the run is alive, so this only bounds takeover after a crash.
func (c *TerminalConfig) RunGuardLease() time.Duration {
	if c.RunGuardTTL > 0 {
		return c.RunGuardTTL
	}
	return 6 * c.CallTimeout
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Store defaults
	v.SetDefault("store.driver", "memory")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "terminalpay")
	v.SetDefault("database.database", "terminalpay")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")
	v.SetDefault("redis.outcome_stream", "terminal:outcomes")

	// Terminal defaults
	v.SetDefault("terminal.poll_interval", "2s")
	v.SetDefault("terminal.max_attempts", 60)
	v.SetDefault("terminal.call_timeout", "5s")
	v.SetDefault("terminal.device_cache_ttl", "5s")
	v.SetDefault("terminal.auto_dismiss", "3s")
	v.SetDefault("terminal.currency", "USD")

	// Gateway defaults
	v.SetDefault("gateway.mode", "simulator")
	v.SetDefault("gateway.sim_latency", "200ms")
	v.SetDefault("gateway.sim_decline_rate", 0.0)
	v.SetDefault("gateway.sim_settle_after", "4s")

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.max_requests", 10)
	v.SetDefault("circuit_breaker.interval", "60s")
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("circuit_breaker.min_requests", 10)
	v.SetDefault("circuit_breaker.failure_ratio", 0.6)

	// Worker defaults
	v.SetDefault("worker.reconcile_interval", "30s")
	v.SetDefault("worker.stale_after", "30s")
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.idempotency_ttl", "24h")
	v.SetDefault("worker.embedded", true)

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Instance ID
	v.SetDefault("instance_id", "terminalpay-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL returns the connection URL golang-migrate expects.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
