// Package ratelimit implements the sliding-window Rate Limiter: a window
// over (resource, subject) of a configurable length, backed either by a
// dummy in-memory stub (for tests) or Redis sorted sets (for production).
package ratelimit

import (
	"context"
	"time"
)

// Limiter is a sliding window over (resource, subject) of length window.
// Both operations report tokens summed within the most recent window span
// and may fail against a real backend.
type Limiter interface {
	// Fetch returns the sum of tokens recorded within the most recent
	// window span, without recording anything new.
	Fetch(ctx context.Context, resource, subject string, window time.Duration) (uint64, error)

	// Record adds tokens at "now", evicts entries older than window, and
	// returns the new window sum.
	Record(ctx context.Context, resource, subject string, tokens uint64, window time.Duration) (uint64, error)
}

// DummyLimiter is the reference backend: every call returns 0, nil. It is
// what the pipeline is tested against when no rate-limiter backend is
// configured.
type DummyLimiter struct{}

func (DummyLimiter) Fetch(ctx context.Context, resource, subject string, window time.Duration) (uint64, error) {
	return 0, nil
}

func (DummyLimiter) Record(ctx context.Context, resource, subject string, tokens uint64, window time.Duration) (uint64, error) {
	return 0, nil
}
