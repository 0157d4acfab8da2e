// Package ratelimit implements sliding-window admission control keyed by
// client identity ("user:<id>" or "ip:<addr>").
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docingest/internal/metrics"
)

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// New returns a Redis-backed limiter when rdb is set and an in-process one
// otherwise. Either way the result never rejects on infrastructure errors.
func New(rdb *redis.Client, sweepInterval time.Duration) Limiter {
	if rdb != nil {
		return NewFailOpen(NewRedisLimiter(rdb))
	}
	return NewFailOpen(NewMemoryLimiter(sweepInterval))
}

// FailOpen admits the request whenever the wrapped limiter errors.
type FailOpen struct {
	next Limiter
	now  func() time.Time
}

func NewFailOpen(next Limiter) *FailOpen {
	return &FailOpen{next: next, now: time.Now}
}

func (f *FailOpen) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	res, err := f.next.Allow(ctx, key, limit, window)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		metrics.RateLimitDecisions.WithLabelValues("fail_open").Inc()
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: f.now().Add(window)}, nil
	}
	if res.Allowed {
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues("rejected").Inc()
	}
	return res, nil
}
