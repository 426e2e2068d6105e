// Package resilience provides fault-tolerance patterns for the ledger:
// bounded retry of optimistic-concurrency conflicts and a circuit breaker
// for the event broker.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"

	apperrors "envledger/internal/errors"
)

// Config holds retry parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// RetryOnConflict runs fn and re-runs it with exponential backoff and jitter
// while it fails with a concurrency conflict. Any other error, or the last
// conflict once retries are exhausted, is returned as is. onRetry, if set, is
// called before each retry.
func RetryOnConflict(ctx context.Context, cfg Config, onRetry func(attempt int), fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil || !apperrors.IsConflict(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			if onRetry != nil {
				onRetry(attempt + 1)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg.InitialBackoff, attempt)):
			}
		}
	}
	return lastErr
}

func backoff(initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * initial
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

// NewCircuitBreaker creates a circuit breaker with the defaults used for
// outbound collaborators.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}
