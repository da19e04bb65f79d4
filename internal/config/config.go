package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	DeliveryProviderMock    = "mock"
	DeliveryProviderWebhook = "webhook"

	EventsBackendRedis  = "redis"
	EventsBackendPusher = "pusher"
	EventsBackendNone   = "none"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9091"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=5"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=8"`
	WorkerPrefetch    int `env:"WORKER_PREFETCH,default=1"`
	// RateLimitPerSec caps delivery calls across all workers; 0 disables it.
	RateLimitPerSec int `env:"RATE_LIMIT_PER_SEC,default=0"`

	DeliveryProvider       string `env:"DELIVERY_PROVIDER,default=mock"`
	DeliverySuccessPercent int    `env:"DELIVERY_SUCCESS_PERCENT,default=90"`
	DeliveryDelayMS        int    `env:"DELIVERY_DELAY_MS,default=1000"`
	DeliveryTimeoutSec     int    `env:"DELIVERY_TIMEOUT_SEC,default=30"`
	DeliveryRetries        int    `env:"DELIVERY_RETRIES,default=2"`
	WebhookURL             string `env:"WEBHOOK_URL"`

	EventsBackend string `env:"EVENTS_BACKEND,default=redis"`
	PusherAppID   string `env:"PUSHER_APP_ID"`
	PusherKey     string `env:"PUSHER_KEY"`
	PusherSecret  string `env:"PUSHER_SECRET"`
	PusherHost    string `env:"PUSHER_HOST"`
	PusherCluster string `env:"PUSHER_CLUSTER"`
	PusherSecure  bool   `env:"PUSHER_SECURE,default=true"`

	MaxUploadBytes int `env:"MAX_UPLOAD_BYTES,default=10485760"`
	MaxRows        int `env:"MAX_ROWS,default=100000"`

	RecoveryIntervalSec    int `env:"RECOVERY_INTERVAL_SEC,default=30"`
	PendingRequeueAfterSec int `env:"PENDING_REQUEUE_AFTER_SEC,default=120"`
	ProcessingTimeoutSec   int `env:"PROCESSING_TIMEOUT_SEC,default=300"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.DeliveryProvider = strings.ToLower(strings.TrimSpace(cfg.DeliveryProvider))
	cfg.EventsBackend = strings.ToLower(strings.TrimSpace(cfg.EventsBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum values and the settings they require.
func (c *Config) Validate() error {
	switch c.DeliveryProvider {
	case DeliveryProviderMock:
		if c.DeliverySuccessPercent < 0 || c.DeliverySuccessPercent > 100 {
			return fmt.Errorf("DELIVERY_SUCCESS_PERCENT must be within 0..100, got %d", c.DeliverySuccessPercent)
		}
	case DeliveryProviderWebhook:
		if strings.TrimSpace(c.WebhookURL) == "" {
			return fmt.Errorf("WEBHOOK_URL is required when DELIVERY_PROVIDER=%s", DeliveryProviderWebhook)
		}
	default:
		return fmt.Errorf("unsupported DELIVERY_PROVIDER %q", c.DeliveryProvider)
	}

	switch c.EventsBackend {
	case EventsBackendRedis, EventsBackendNone:
	case EventsBackendPusher:
		if c.PusherAppID == "" || c.PusherKey == "" || c.PusherSecret == "" {
			return fmt.Errorf("PUSHER_APP_ID, PUSHER_KEY and PUSHER_SECRET are required when EVENTS_BACKEND=%s", EventsBackendPusher)
		}
	default:
		return fmt.Errorf("unsupported EVENTS_BACKEND %q", c.EventsBackend)
	}

	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must not be negative")
	}
	if c.DeliveryRetries < 0 {
		return fmt.Errorf("DELIVERY_RETRIES must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}

	return nil
}

func (c *Config) DeliveryDelay() time.Duration {
	return time.Duration(c.DeliveryDelayMS) * time.Millisecond
}

func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSec) * time.Second
}

func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSec) * time.Second
}

func (c *Config) PendingRequeueAfter() time.Duration {
	return time.Duration(c.PendingRequeueAfterSec) * time.Second
}

func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSec) * time.Second
}
