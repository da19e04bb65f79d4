// Package bootstrap builds the configured adapters shared by the api and
// worker binaries.
package bootstrap

import (
	"fmt"

	"github.com/kursadbilgin/batch-engine/internal/config"
	"github.com/kursadbilgin/batch-engine/internal/delivery"
	"github.com/kursadbilgin/batch-engine/internal/events"
	"github.com/kursadbilgin/batch-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/batch-engine/internal/infra/redis"
	"github.com/kursadbilgin/batch-engine/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func OpenDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	return postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}, logger)
}

// NewEventSink picks the progress transport named by EVENTS_BACKEND.
func NewEventSink(cfg *config.Config, rdb *redis.Client) (events.EventSink, error) {
	switch cfg.EventsBackend {
	case config.EventsBackendRedis:
		sink, err := events.NewRedisSink(rdb)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.EventsBackendPusher:
		sink, err := events.NewPusherSink(events.PusherConfig{
			AppID:   cfg.PusherAppID,
			Key:     cfg.PusherKey,
			Secret:  cfg.PusherSecret,
			Host:    cfg.PusherHost,
			Cluster: cfg.PusherCluster,
			Secure:  cfg.PusherSecure,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.EventsBackendNone:
		return events.NopSink{}, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.EventsBackend)
	}
}

func NewDeliveryProvider(cfg *config.Config) (delivery.Provider, error) {
	switch cfg.DeliveryProvider {
	case config.DeliveryProviderMock:
		provider, err := delivery.NewMockProvider(cfg.DeliverySuccessPercent, cfg.DeliveryDelay())
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.DeliveryProviderWebhook:
		provider, err := delivery.NewWebhookProvider(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported delivery provider %q", cfg.DeliveryProvider)
	}
}

// NewRateLimiter returns the shared Redis limiter, or no limit when
// RATE_LIMIT_PER_SEC is 0.
func NewRateLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.RateLimiter, error) {
	if cfg.RateLimitPerSec == 0 {
		return ratelimit.Unlimited{}, nil
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return nil, err
	}
	return limiter, nil
}
