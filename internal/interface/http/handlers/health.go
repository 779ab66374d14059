package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports the health of the service and its dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency. A nil error means healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Healthy bool `json:"healthy"`
	Ready   bool `json:"ready"`

	// Degraded is set when an advisory check fails. The service still
	// reports healthy and ready.
	Degraded bool `json:"degraded,omitempty"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool           `json:"healthy"`
	Advisory bool           `json:"advisory,omitempty"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// CheckOption configures a registered check.
type CheckOption func(*registeredCheck)

// Advisory marks a check whose failure degrades the service without taking
// it out of rotation.
func Advisory() CheckOption {
	return func(c *registeredCheck) { c.advisory = true }
}

// WithDetail attaches extra data, such as pool counters, to the result.
func WithDetail(detail func() map[string]any) CheckOption {
	return func(c *registeredCheck) { c.detail = detail }
}

// WithCheckTimeout overrides the default per-check timeout.
func WithCheckTimeout(d time.Duration) CheckOption {
	return func(c *registeredCheck) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type registeredCheck struct {
	name     string
	run      HealthCheckFunc
	advisory bool
	detail   func() map[string]any
	timeout  time.Duration
}

// DefaultCheckTimeout bounds each check unless overridden.
const DefaultCheckTimeout = 5 * time.Second

// CompositeHealthChecker runs its checks in parallel. Required checks decide
// health and readiness; advisory checks only set Degraded.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	started time.Time
	version string
}

// NewCompositeHealthChecker creates a checker with no checks.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:  make(map[string]registeredCheck),
		started: time.Now(),
		version: version,
	}
}

// Register adds or replaces the check called name.
func (c *CompositeHealthChecker) Register(name string, run HealthCheckFunc, opts ...CheckOption) {
	rc := registeredCheck{name: name, run: run, timeout: DefaultCheckTimeout}
	for _, opt := range opts {
		opt(&rc)
	}

	c.mu.Lock()
	c.checks[name] = rc
	c.mu.Unlock()
}

// Check runs every registered check.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make([]registeredCheck, 0, len(c.checks))
	for _, rc := range c.checks {
		checks = append(checks, rc)
	}
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, rc := range checks {
		wg.Add(1)
		go func(i int, rc registeredCheck) {
			defer wg.Done()
			results[i] = rc.execute(ctx)
		}(i, rc)
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var failed, degraded []string
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.name] = res
		switch {
		case res.Healthy:
		case res.Advisory:
			degraded = append(degraded, rc.name)
		default:
			failed = append(failed, rc.name)
		}
	}
	sort.Strings(failed)
	sort.Strings(degraded)

	switch {
	case len(failed) > 0:
		status.Healthy, status.Ready = false, false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	case len(degraded) > 0:
		status.Degraded = true
		status.Message = "Degraded: " + strings.Join(degraded, ", ")
	case len(checks) == 0:
		status.Message = "No health checks registered"
	default:
		status.Message = "All checks passed"
	}
	return status
}

func (rc registeredCheck) execute(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	start := time.Now()
	err := rc.run(ctx)

	res := CheckResult{
		Healthy:  err == nil,
		Advisory: rc.advisory,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	if rc.detail != nil {
		res.Detail = rc.detail()
	}
	return res
}

// Pinger is a dependency that answers a ping, like the database or cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a Pinger.
func PingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// RendererChecker reports whether the document renderer is accepting work.
type RendererChecker interface {
	Available() bool
}

// NewRendererCheck fails while the renderer circuit breaker is open.
func NewRendererCheck(renderer RendererChecker) HealthCheckFunc {
	return func(context.Context) error {
		if !renderer.Available() {
			return errors.New("renderer circuit open")
		}
		return nil
	}
}
