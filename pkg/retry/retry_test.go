package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastRetrier(opts ...Option) *Retrier {
	base := []Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}
	return New(append(base, opts...)...)
}

func TestRetrier_RetriesMarkedErrorsUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int

	r := fastRetrier(WithMaxAttempts(4), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetrier_StopsOnUnmarkedAndPermanentErrors(t *testing.T) {
	calls := 0
	err := fastRetrier().Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls, "unmarked errors are not retried by default")

	calls = 0
	err = fastRetrier(WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, errFlaky, err, "the marker is stripped")
	assert.False(t, IsPermanent(err))
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errFlaky)
	})

	assert.Equal(t, 3, calls)
	assert.Same(t, errFlaky, err)
}

func TestRetrier_RetryIfOverridesMarkers(t *testing.T) {
	calls := 0
	r := fastRetrier(WithMaxAttempts(5), WithRetryIf(func(err error) bool {
		return errors.Is(err, errFlaky)
	}))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 5, calls)
}

func TestRetrier_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	r := New(WithMaxAttempts(10), WithInitialDelay(time.Hour), WithJitter(0))
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(context.Context) error {
			calls++
			return Retryable(errFlaky)
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retrier did not stop on cancellation")
	}
}

func TestDoWithData(t *testing.T) {
	calls := 0
	ref, err := DoWithData(context.Background(), fastRetrier(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Retryable(errFlaky)
		}
		return "doc-42", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "doc-42", ref)
	assert.Equal(t, 2, calls)
}

func TestCalculateDelay(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second), WithMultiplier(2), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, time.Second, r.calculateDelay(10))
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 4, RendererRetrier().MaxAttempts())
	assert.Equal(t, 3, DatabaseRetrier().MaxAttempts())
	assert.Equal(t, 6, RendererRetrier(WithMaxAttempts(6)).MaxAttempts())
	assert.Equal(t, 2, DatabaseRetrier().With(WithMaxAttempts(2)).MaxAttempts())
}
