package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Outbox       OutboxConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `envconfig:"APP_NAME" default:"referral-routing-service"`
	Env                   string `envconfig:"APP_ENV" default:"development"`
	Host                  string `envconfig:"APP_HOST" default:"0.0.0.0"`
	Port                  string `envconfig:"APP_PORT" default:"8080"`
	Version               string `envconfig:"APP_VERSION" default:"dev"`
	RequestTimeoutSeconds int    `envconfig:"APP_REQUEST_TIMEOUT_SECONDS" default:"30"`
	// SiteID identifies this tenant in outgoing webhooks.
	SiteID string `envconfig:"APP_SITE_ID" default:"default"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `envconfig:"POSTGRES_DSN"`
	MaxConns       int32  `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
	MinConns       int32  `envconfig:"POSTGRES_MIN_CONNS" default:"2"`
	RunMigrations  bool   `envconfig:"POSTGRES_RUN_MIGRATIONS" default:"true"`
	ConnMaxIdleSec int32  `envconfig:"POSTGRES_CONN_MAX_IDLE_SECONDS" default:"30"`
	ConnMaxLifeSec int32  `envconfig:"POSTGRES_CONN_MAX_LIFE_SECONDS" default:"300"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// AuthConfig defines how bearer tokens issued by the auth service are verified.
type AuthConfig struct {
	JWTSecret             string `envconfig:"AUTH_JWT_SECRET" default:"dev-secret"`
	Issuer                string `envconfig:"AUTH_ISSUER"`
	AccessTokenTTLMinutes int    `envconfig:"AUTH_ACCESS_TOKEN_TTL_MINUTES" default:"60"`
}

// NotificationConfig holds email and webhook delivery settings. Empty values
// disable the corresponding channel.
type NotificationConfig struct {
	EmailFrom      string        `envconfig:"NOTIFY_EMAIL_FROM" default:"noreply@example.com"`
	AdminEmail     string        `envconfig:"NOTIFY_ADMIN_EMAIL"`
	SMTPHost       string        `envconfig:"NOTIFY_SMTP_HOST"`
	SMTPPort       int           `envconfig:"NOTIFY_SMTP_PORT" default:"587"`
	SMTPUsername   string        `envconfig:"NOTIFY_SMTP_USERNAME"`
	SMTPPassword   string        `envconfig:"NOTIFY_SMTP_PASSWORD"`
	WebhookURL     string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	WebhookSecret  string        `envconfig:"NOTIFY_WEBHOOK_SECRET"`
	WebhookTimeout time.Duration `envconfig:"NOTIFY_WEBHOOK_TIMEOUT" default:"10s"`
}

// OutboxConfig tunes the side-effect delivery worker.
type OutboxConfig struct {
	Enabled        bool          `envconfig:"OUTBOX_ENABLED" default:"true"`
	BatchSize      int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	MaxAttempts    int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"8"`
	BaseBackoff    time.Duration `envconfig:"OUTBOX_BASE_BACKOFF" default:"5s"`
	MaxBackoff     time.Duration `envconfig:"OUTBOX_MAX_BACKOFF" default:"10m"`
	IdempotencyTTL time.Duration `envconfig:"OUTBOX_IDEMPOTENCY_TTL" default:"24h"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the lifetime used when minting tokens for local tooling.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// EmailEnabled reports whether an SMTP relay is configured.
func (n NotificationConfig) EmailEnabled() bool {
	return n.SMTPHost != ""
}

// WebhookEnabled reports whether a webhook endpoint is configured.
func (n NotificationConfig) WebhookEnabled() bool {
	return n.WebhookURL != ""
}
