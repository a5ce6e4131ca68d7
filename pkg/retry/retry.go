// Package retry runs an operation again after transient failures,
// backing off exponentially with jitter between attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryableError marks an error as worth retrying. By default a
// Retrier only retries errors carrying this mark; everything else
// returns to the caller immediately.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as retryable. Returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the retryable mark.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Config controls attempt count and backoff shape.
type Config struct {
	// MaxAttempts counts the first try too.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// JitterFactor spreads delays by up to this fraction either way,
	// so synchronized clients do not retry in lockstep.
	JitterFactor float64

	// RetryIf overrides the default retryable-mark check.
	RetryIf func(error) bool
}

// Option mutates a Config.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// Retrier executes operations under one retry policy.
type Retrier struct {
	cfg Config
}

// New builds a Retrier. Defaults: 3 attempts, 100ms initial delay
// doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{cfg: cfg}
}

// Do runs operation until it succeeds, exhausts attempts, hits a
// non-retryable error, or the context ends. The returned error is the
// operation's own error, unwrapped from any retryable mark.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	delay := float64(r.cfg.InitialDelay)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastErr != nil {
				return lastErr
			}
			return ctxErr
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = unmark(err)

		if !r.shouldRetry(err) || attempt >= r.cfg.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(jittered(delay, r.cfg.JitterFactor)):
		}

		delay *= r.cfg.Multiplier
		if max := float64(r.cfg.MaxDelay); delay > max {
			delay = max
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.cfg.RetryIf != nil {
		return r.cfg.RetryIf(err)
	}
	return IsRetryable(err)
}

// unmark strips the retryable wrapper so callers see the real error.
func unmark(err error) error {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}

// jittered perturbs d by up to +-factor.
func jittered(d, factor float64) time.Duration {
	if factor > 0 {
		d += d * factor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// PublishRetrier is the policy for post-commit event publishing. A
// lost event is worth a few extra attempts, but publishing must never
// hold the attempt pipeline for long.
func PublishRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(100*time.Millisecond),
		WithMaxDelay(2*time.Second),
	)
}
