package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	window       = time.Second
	minRetryWait = 5 * time.Millisecond
	keyPrefix    = "batch-engine:ratelimit:"
)

// reserveScript counts one call in the current window. It returns 0 when the
// call fits, otherwise the milliseconds left until the window expires.
var reserveScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 1 then
  return 1
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed one second window shared through Redis by
// every worker process delivering on the same lane.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limitPerSec)
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: int64(limitPerSec),
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, lane string) (bool, error) {
	retryIn, err := r.reserve(ctx, lane)
	if err != nil {
		return false, err
	}
	return retryIn == 0, nil
}

// Wait blocks until a call on lane fits the current window. A rejected call
// sleeps until the window it hit has expired instead of polling.
func (r *RedisRateLimiter) Wait(ctx context.Context, lane string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		retryIn, err := r.reserve(ctx, lane)
		if err != nil {
			return err
		}
		if retryIn == 0 {
			return nil
		}

		if err := r.sleep(ctx, max(retryIn, minRetryWait)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, lane string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedLane := strings.ToLower(strings.TrimSpace(lane))
	if normalizedLane == "" {
		return 0, fmt.Errorf("rate limit lane is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := windowKey(normalizedLane, r.now())
	ms, err := reserveScript.Run(ctx, r.client, []string{key}, r.limitPerSec, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return time.Duration(ms) * time.Millisecond, nil
}

func windowKey(lane string, now time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, lane, now.UTC().Unix())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
