package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthCheckFunc probes one dependency; a non-nil error fails it.
type HealthCheckFunc func(ctx context.Context) error

// HealthChecker aggregates dependency probes into one status.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
	RemoveCheck(name string)
}

// HealthStatus is the aggregated service health.
type HealthStatus struct {
	// Healthy is the overall verdict; false when any check fails.
	Healthy bool `json:"healthy"`

	// Ready reports whether the service should receive traffic.
	Ready bool `json:"ready"`

	// Degraded means the engine is serving with the fallback
	// estimator only. It does not fail the check.
	Degraded bool `json:"degraded,omitempty"`

	Message string `json:"message,omitempty"`

	// Checks holds the individual probe results by name.
	Checks map[string]CheckResult `json:"checks,omitempty"`

	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// CheckResult is one probe's outcome.
type CheckResult struct {
	Healthy     bool      `json:"healthy"`
	Message     string    `json:"message,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker runs registered probes in parallel under a
// shared per-probe timeout, so one slow dependency cannot stall the
// whole health response.
type CompositeHealthChecker struct {
	mu       sync.RWMutex
	checks   map[string]HealthCheckFunc
	degraded func() bool

	startedAt time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a checker reporting version.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]HealthCheckFunc),
		startedAt: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout changes the per-probe deadline.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// SetDegradedFunc registers a degraded-mode probe. Degraded is
// reported but never fails the check: the engine still serves
// estimates while degraded.
func (c *CompositeHealthChecker) SetDegradedFunc(fn func() bool) {
	c.mu.Lock()
	c.degraded = fn
	c.mu.Unlock()
}

// AddCheck registers a named probe.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// RemoveCheck drops a named probe.
func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	delete(c.checks, name)
	c.mu.Unlock()
}

// Check runs every probe and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	probes := make([]HealthCheckFunc, 0, len(c.checks))
	for name, probe := range c.checks {
		names = append(names, name)
		probes = append(probes, probe)
	}
	degraded := c.degraded
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if degraded != nil {
		status.Degraded = degraded()
	}
	if len(probes) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(probes))
	var wg sync.WaitGroup
	for i, probe := range probes {
		wg.Add(1)
		go func(i int, probe HealthCheckFunc) {
			defer wg.Done()
			results[i] = runProbe(ctx, probe, timeout)
		}(i, probe)
	}
	wg.Wait()

	status.Checks = make(map[string]CheckResult, len(results))
	var failed []string
	for i, r := range results {
		status.Checks[names[i]] = r
		if !r.Healthy {
			failed = append(failed, names[i])
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		status.Healthy = false
		status.Ready = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
		return status
	}
	status.Message = "All checks passed"
	return status
}

func runProbe(ctx context.Context, probe HealthCheckFunc, timeout time.Duration) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := probe(probeCtx)

	result := CheckResult{
		Healthy:     err == nil,
		Message:     "OK",
		Duration:    time.Since(started).Round(time.Millisecond).String(),
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBE CONSTRUCTORS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is anything with a Ping method: the database pool and the
// cache client both qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck adapts a Pinger into a probe.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// Reachable is anything reporting boolean reachability, like the
// content service client.
type Reachable interface {
	IsHealthy(ctx context.Context) bool
}

// NewReachabilityCheck adapts a Reachable into a probe.
func NewReachabilityCheck(r Reachable) HealthCheckFunc {
	return func(ctx context.Context) error {
		if !r.IsHealthy(ctx) {
			return errors.New("service unreachable")
		}
		return nil
	}
}

// NoopHealthChecker reports healthy unconditionally. Used in tests and
// as the default when no checker is wired.
type NoopHealthChecker struct {
	startedAt time.Time
}

// NewNoopHealthChecker creates a noop checker.
func NewNoopHealthChecker() *NoopHealthChecker {
	return &NoopHealthChecker{startedAt: time.Now()}
}

// Check always reports healthy.
func (n *NoopHealthChecker) Check(context.Context) HealthStatus {
	return HealthStatus{
		Healthy:   true,
		Ready:     true,
		Message:   "OK",
		Uptime:    time.Since(n.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}

// AddCheck is a no-op.
func (n *NoopHealthChecker) AddCheck(string, HealthCheckFunc) {}

// RemoveCheck is a no-op.
func (n *NoopHealthChecker) RemoveCheck(string) {}
