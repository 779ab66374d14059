package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(settings Settings) (*CircuitBreaker, *clock) {
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cb := New("t", settings)
	cb.now = c.now
	return cb, c
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 2, CoolDown: time.Minute})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, cb.State(), "a success resets the streak")

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.False(t, called)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	var transitions []string
	cb, clk := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		MaxTrials:        1,
		CoolDown:         time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clk.advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	// A single trial slot is reused once the previous trial finished.
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"t:closed->open",
		"t:open->half-open",
		"t:half-open->closed",
	}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(Settings{FailureThreshold: 1, CoolDown: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_LimitsConcurrentTrials(t *testing.T) {
	cb, clk := newTestBreaker(Settings{FailureThreshold: 1, CoolDown: time.Minute, MaxTrials: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.True(t, IsRejected(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoresResultsFromEarlierState(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 1, CoolDown: time.Minute})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateOpen, cb.State(), "a slow success from before the trip does not close it")
}

func TestCircuitBreaker_IsFailureIgnoresClientErrors(t *testing.T) {
	errBadRequest := errors.New("bad request")
	cb, _ := newTestBreaker(Settings{FailureThreshold: 1, IsFailure: func(err error) bool {
		return !errors.Is(err, errBadRequest)
	}})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return errBadRequest }), errBadRequest)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 1, CoolDown: time.Hour})

	ref, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (string, error) {
		return "doc-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", ref)

	_, err = ExecuteWithResult(context.Background(), cb, func(context.Context) (string, error) {
		return "", errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	_, err = ExecuteWithResult(context.Background(), cb, func(context.Context) (string, error) {
		return "doc-2", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestPresets(t *testing.T) {
	r := RendererBreaker(nil, nil, WithFailureThreshold(7), WithTimeout(time.Second))
	assert.Equal(t, "document-renderer", r.Name())
	assert.Equal(t, 7, r.settings.FailureThreshold)
	assert.Equal(t, time.Second, r.settings.CoolDown)
	assert.Equal(t, 2, r.settings.SuccessThreshold)

	assert.Equal(t, "catalog-cache", CacheBreaker(nil).Name())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
