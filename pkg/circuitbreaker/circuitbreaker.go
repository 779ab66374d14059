// Package circuitbreaker stops calling a collaborator that keeps failing and
// lets a few trial calls through again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen rejects calls while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the trial limit while half-open.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejected reports whether err came from the breaker itself rather than
// from the protected call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Settings tune a breaker.
type Settings struct {
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int
	// SuccessThreshold trial successes close a half-open breaker.
	SuccessThreshold int
	// MaxTrials bounds concurrent calls while half-open.
	MaxTrials int
	// CoolDown is how long the breaker stays open.
	CoolDown time.Duration

	// IsFailure decides which errors count. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange runs under the breaker lock; it must not call back in.
	OnStateChange func(name string, from, to State)
}

// Option adjusts Settings.
type Option func(*Settings)

// WithFailureThreshold overrides FailureThreshold when n is positive.
func WithFailureThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.FailureThreshold = n
		}
	}
}

// WithTimeout overrides CoolDown when d is positive.
func WithTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.CoolDown = d
		}
	}
}

// CircuitBreaker guards calls to one collaborator. Results are tagged with
// the generation they started in, so a call that returns after a state
// change does not count against the new state.
type CircuitBreaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	successes  int
	trials     int
	openedAt   time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings, opts ...Option) *CircuitBreaker {
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.MaxTrials <= 0 {
		settings.MaxTrials = 1
	}
	if settings.CoolDown <= 0 {
		settings.CoolDown = 30 * time.Second
	}
	return &CircuitBreaker{name: name, settings: settings, now: time.Now}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, moving an expired open breaker to
// half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(gen, err)
	return err
}

// ExecuteWithResult runs fn through cb and returns its value.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()

	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trials >= cb.settings.MaxTrials {
			return 0, ErrTooManyRequests
		}
		cb.trials++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) settle(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	if gen != cb.generation {
		return
	}

	failed := err != nil && (cb.settings.IsFailure == nil || cb.settings.IsFailure(err))
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.moveTo(StateOpen)
		}
	case StateHalfOpen:
		cb.trials--
		if failed {
			cb.moveTo(StateOpen)
			return
		}
		cb.successes++
		if cb.successes >= cb.settings.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	}
}

// expire must be called with mu held.
func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.settings.CoolDown {
		cb.moveTo(StateHalfOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.failures, cb.successes, cb.trials = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.name, from, to)
	}
}

// RendererBreaker guards the document renderer. isFailure lets callers
// ignore client errors such as 4xx responses; opts override the defaults.
func RendererBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return New("document-renderer", Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		MaxTrials:        1,
		CoolDown:         30 * time.Second,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	}, opts...)
}

// CacheBreaker guards the catalog cache. A tripped cache falls back to the
// database, so it opens fast and recovers fast.
func CacheBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("catalog-cache", Settings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		MaxTrials:        1,
		CoolDown:         10 * time.Second,
		OnStateChange:    onStateChange,
	})
}
