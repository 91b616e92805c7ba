package corpus

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether and when to retry a failed attempt.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt is allowed after attempt
	// attempts have failed with err.
	ShouldRetry(err error, attempt int) bool
	// Backoff returns the wait before the next attempt.
	Backoff(err error, attempt int) time.Duration
}

// RetryConfig tunes ExponentialRetryPolicy. Zero values take defaults.
type RetryConfig struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RateLimitMultiplier int
}

const (
	defaultMaxAttempts         = 3
	defaultBaseDelay           = time.Second
	defaultMaxDelay            = 30 * time.Second
	defaultRateLimitMultiplier = 4
)

// ExponentialRetryPolicy implements RetryPolicy with capped, jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts         int
	baseDelay           time.Duration
	maxDelay            time.Duration
	rateLimitMultiplier int
}

// NewExponentialRetryPolicy builds a policy from cfg.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.RateLimitMultiplier <= 0 {
		cfg.RateLimitMultiplier = defaultRateLimitMultiplier
	}
	return &ExponentialRetryPolicy{
		maxAttempts:         cfg.MaxAttempts,
		baseDelay:           cfg.BaseDelay,
		maxDelay:            cfg.MaxDelay,
		rateLimitMultiplier: cfg.RateLimitMultiplier,
	}
}

// MaxAttempts returns the attempt cap.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Retriable()
}

// Backoff returns the wait duration before the next attempt. The delay doubles
// from the base per attempt and is capped; rate-limited failures wait longer.
func (p *ExponentialRetryPolicy) Backoff(err error, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(p.maxDelay)
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if KindOf(err) == KindRateLimited {
		ceiling *= float64(p.rateLimitMultiplier)
		delay *= float64(p.rateLimitMultiplier)
		if after := RetryAfter(err); after > 0 {
			delay = float64(after)
		}
	}
	if delay > ceiling {
		delay = ceiling
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Retry calls fn until it succeeds, the policy gives up, or ctx ends. It
// returns the last value and error along with the number of attempts made.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, attempt, fmt.Errorf("retry aborted: %w", ctxErr)
		}
		if policy == nil || !policy.ShouldRetry(err, attempt) {
			return zero, attempt, err
		}
		timer := time.NewTimer(policy.Backoff(err, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
