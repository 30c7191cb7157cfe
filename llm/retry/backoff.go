// Package retry provides exponential-backoff retry for LLM API calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy defines a retry policy.
type Policy struct {
	MaxRetries   int           // additional attempts after the first (0 disables retry)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff cap
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // full jitter: delay drawn uniformly from [0, backoff)

	// OnRetry is invoked before each retry sleep, with the 1-based retry
	// number and the error that triggered it. Used for metrics.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used for LLM HTTP attempts: up to 3
// attempts total, base 2s, cap 30s, full jitter.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with retry on retryable failures.
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

// RetryableFunc decides whether an error is worth retrying. A nil function
// retries every error.
type RetryableFunc func(error) bool

type backoffRetryer struct {
	policy    *Policy
	retryable RetryableFunc
	logger    *zap.Logger
}

// NewBackoffRetryer creates an exponential-backoff retryer.
func NewBackoffRetryer(policy *Policy, retryable RetryableFunc, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, retryable: retryable, logger: logger}
}

// Do runs fn, retrying per the policy while the error stays retryable.
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if r.retryable != nil && !r.retryable(lastErr) {
			return lastErr
		}
		if attempt >= r.policy.MaxRetries {
			break
		}

		delay := r.delayFor(attempt)
		r.logger.Debug("retrying after failure",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt+1, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", r.policy.MaxRetries+1, lastErr)
}

// delayFor computes the backoff delay for the given zero-based attempt.
func (r *backoffRetryer) delayFor(attempt int) time.Duration {
	backoff := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt))
	if max := float64(r.policy.MaxDelay); backoff > max {
		backoff = max
	}
	if r.policy.Jitter {
		backoff = rand.Float64() * backoff
	}
	return time.Duration(backoff)
}
