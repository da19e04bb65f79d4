// Package ratelimit throttles outbound delivery calls.
package ratelimit

import "context"

// RateLimiter controls delivery throughput per lane. A lane is the name of
// the delivery provider, so every worker sharing a provider shares a budget.
type RateLimiter interface {
	Allow(ctx context.Context, lane string) (bool, error)
	Wait(ctx context.Context, lane string) error
}

// Unlimited never throttles. It is used when no per-second limit is set.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error { return ctx.Err() }
