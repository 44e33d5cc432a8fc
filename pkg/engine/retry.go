package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how retryable failures are re-attempted.
// The delay before attempt k+1 is BaseDelay * Multiplier^(k-1), capped at
// MaxDelay and optionally jittered.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`

	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration `json:"base_delay"`

	// Multiplier scales the delay after each further attempt.
	Multiplier float64 `json:"multiplier"`

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration `json:"max_delay,omitempty"`

	// Jitter spreads each delay uniformly by ±Jitter of its value.
	Jitter float64 `json:"jitter,omitempty"`
}

// RetryOption is a functional option for RetryPolicy.
type RetryOption func(*RetryPolicy)

// DefaultRetryPolicy returns three attempts with a one second base delay
// doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    time.Minute,
	}
}

// NewRetryPolicy builds a policy from the defaults and options.
func NewRetryPolicy(opts ...RetryOption) RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) RetryOption {
	return func(p *RetryPolicy) { p.Multiplier = m }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

// WithJitter sets the jitter fraction.
func WithJitter(f float64) RetryOption {
	return func(p *RetryPolicy) { p.Jitter = f }
}

// Validate checks the policy parameters.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1, got %g", p.Jitter)
	}
	return nil
}

// ShouldRetry reports whether another attempt follows a failure on
// attempt k (1-based).
func (p RetryPolicy) ShouldRetry(record *ErrorRecord, attempt int) bool {
	return record != nil && record.Retryable && attempt < p.MaxAttempts
}

// Delay returns the backoff after failed attempt k (1-based), without
// jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// JitteredDelay applies the configured jitter to Delay(attempt).
func (p RetryPolicy) JitteredDelay(attempt int) time.Duration {
	delay := p.Delay(attempt)
	if p.Jitter == 0 || delay == 0 {
		return delay
	}
	spread := float64(delay) * p.Jitter
	return time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
