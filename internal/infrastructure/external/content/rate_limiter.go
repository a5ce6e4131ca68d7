package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig tunes the outbound request budget.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may go out back to back.
	BurstSize int

	// WaitTimeout bounds how long Allow blocks for a token.
	WaitTimeout time.Duration

	// RetryAfter is the fallback wait when the backend rate-limits us
	// without saying for how long.
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig is tuned for item serving: content fetches
// sit on the next-item path, so the sustained rate is high and the
// wait budget short.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 50.0,
		BurstSize:         100,
		WaitTimeout:       2 * time.Second,
		RetryAfter:        10 * time.Second,
	}
}

// RateLimiter is a token bucket gating calls to the content service.
// It also reacts to explicit 429 responses by draining the bucket and
// trimming its own rate.
type RateLimiter struct {
	mu sync.Mutex

	capacity    float64
	rate        float64 // tokens per second
	tokens      float64
	updated     time.Time // last token accounting
	waitTimeout time.Duration
	retryAfter  time.Duration
	penalized   bool // backend told us to slow down
}

// NewRateLimiter builds a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		capacity:    float64(config.BurstSize),
		rate:        config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		updated:     time.Now(),
		waitTimeout: config.WaitTimeout,
		retryAfter:  config.RetryAfter,
	}
}

// RateLimitError reports that the request budget is exhausted.
type RateLimitError struct {
	// RetryAfter is the suggested wait before trying again.
	RetryAfter time.Duration

	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

// Is matches any RateLimitError regardless of its wait hint.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// Allow blocks until a token is available or the wait budget runs out.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := time.Now().Add(rl.waitTimeout)

	for {
		wait, ok := rl.take()
		if ok {
			return nil
		}
		if time.Now().Add(wait).After(deadline) {
			return &RateLimitError{
				RetryAfter: wait,
				Message:    fmt.Sprintf("rate limit exceeded, retry after %s", wait),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAllow takes a token if one is available, without blocking.
func (rl *RateLimiter) TryAllow() bool {
	_, ok := rl.take()
	return ok
}

// take consumes a token or reports how long until one accrues.
func (rl *RateLimiter) take() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.accrue(time.Now())

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}

	wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
	if rl.penalized && wait < rl.retryAfter {
		wait = rl.retryAfter
	}
	return wait, false
}

// accrue credits tokens for time elapsed. Caller holds the lock.
func (rl *RateLimiter) accrue(now time.Time) {
	if elapsed := now.Sub(rl.updated).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
			rl.penalized = false
		}
		rl.updated = now
	}
}

// RecordRateLimitHit reacts to a 429 from the backend: drain the
// bucket, honor its retry hint, and shave the sustained rate so the
// next window does not hit the same wall.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = 0
	rl.updated = time.Now()
	rl.penalized = true
	if retryAfter > 0 {
		rl.retryAfter = retryAfter
	}
	rl.rate *= 0.8
}

// Reset refills the bucket and clears any penalty.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.capacity
	rl.updated = time.Now()
	rl.penalized = false
}

// RateLimiterStatus is a snapshot for diagnostics.
type RateLimiterStatus struct {
	AvailableTokens float64
	MaxTokens       float64
	RefillRate      float64
	Penalized       bool
}

// Status reports the limiter's current state.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.accrue(time.Now())

	return RateLimiterStatus{
		AvailableTokens: rl.tokens,
		MaxTokens:       rl.capacity,
		RefillRate:      rl.rate,
		Penalized:       rl.penalized,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// CircuitState is the breaker's position.
type CircuitState int

const (
	// CircuitClosed passes requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails requests fast.
	CircuitOpen
	// CircuitHalfOpen admits a few probes to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen rejects a request while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes breaker thresholds.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the circuit after this many failures.
	FailureThreshold int

	// SuccessThreshold closes it after this many half-open successes.
	SuccessThreshold int

	// Timeout is the open period before probing.
	Timeout time.Duration

	// HalfOpenMaxRetries bounds probes per half-open episode.
	HalfOpenMaxRetries int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,
		HalfOpenMaxRetries: 3,
	}
}

// CircuitBreaker guards the content service. Unlike the inference
// breaker, requests here carry their own retry loop, so the breaker
// only needs Allow/Record hooks rather than an Execute wrapper.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig

	state     CircuitState
	failures  int
	successes int
	probes    int
	movedAt   time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: config, movedAt: time.Now()}
}

// Allow reports whether a request may go out now.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.movedAt) <= cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.move(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRetries {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

// RecordSuccess notes a request that completed cleanly.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.move(CircuitClosed)
		}
	}
}

// RecordFailure notes a failed request. A half-open failure reopens
// the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.move(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.move(CircuitOpen)
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.move(CircuitClosed)
}

// move transitions state. Caller holds the lock.
func (cb *CircuitBreaker) move(next CircuitState) {
	cb.state = next
	cb.successes = 0
	cb.probes = 0
	cb.movedAt = time.Now()
	if next == CircuitClosed {
		cb.failures = 0
	}
}

// CircuitBreakerStatus is a snapshot for diagnostics.
type CircuitBreakerStatus struct {
	State           CircuitState
	Failures        int
	Successes       int
	LastStateChange time.Time
}

// Status reports the breaker's current state.
func (cb *CircuitBreaker) Status() CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStatus{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastStateChange: cb.movedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRY BACKOFF
// ══════════════════════════════════════════════════════════════════════════════

// RetryConfig shapes the client's in-call retry loop.
type RetryConfig struct {
	// MaxRetries is additional attempts after the first.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps backoff growth.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait per retry.
	BackoffMultiplier float64

	// Jitter spreads waits by up to this fraction.
	Jitter float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// CalculateBackoff returns the wait before retry number attempt.
// Jitter is deterministic in the attempt number so tests stay stable.
func (c RetryConfig) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
		if backoff >= float64(c.MaxBackoff) {
			backoff = float64(c.MaxBackoff)
			break
		}
	}

	if c.Jitter > 0 {
		spread := backoff * c.Jitter
		backoff += spread*float64((attempt*37)%100)/100.0 - spread/2
	}
	return time.Duration(backoff)
}
