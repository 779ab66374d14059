package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

func TestInMemoryEventBus_SyncDeliversInOrder(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var got []string
	require.NoError(t, bus.Subscribe(shared.EventContentCompleted, func(e shared.Event) error {
		got = append(got, "first:"+shared.PayloadString(e, "user_id"))
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventContentCompleted, func(e shared.Event) error {
		got = append(got, "second:"+shared.PayloadString(e, "course_id"))
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewContentCompletedEvent("u1", "go-101")))
	require.NoError(t, bus.Publish(shared.NewExamPassedEvent("att-1", "u1", "go-101", 90)))

	assert.Equal(t, []string{"first:u1", "second:go-101"}, got)
	assert.Equal(t, DeliveryStats{Published: 2, Delivered: 2}, bus.Stats())
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	called := false
	require.NoError(t, bus.Subscribe(shared.EventExamPassed, func(shared.Event) error {
		panic("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventExamPassed, func(shared.Event) error {
		return errors.New("handler failed")
	}))
	require.NoError(t, bus.Subscribe(shared.EventExamPassed, func(shared.Event) error {
		called = true
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewExamPassedEvent("att-1", "u1", "go-101", 80)))
	assert.True(t, called)

	stats := bus.Stats()
	assert.EqualValues(t, 1, stats.Delivered)
	assert.EqualValues(t, 2, stats.Failed)
}

func TestInvoke_WrapsPanic(t *testing.T) {
	err := invoke(shared.NewContentCompletedEvent("u1", "go-101"), func(shared.Event) error {
		panic("nil map")
	})
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.ErrorContains(t, err, "nil map")
}

func TestInMemoryEventBus_AsyncWaitsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Async: true, Workers: 2})

	var count, running, peak atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventUnitCompleted, func(shared.Event) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		count.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewUnitCompletedEvent("u1", "go-101", "unit", 1, 3)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), count.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.ErrorIs(t, bus.Publish(shared.NewContentCompletedEvent("u1", "go-101")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventExamPassed, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.Error(t, bus.Subscribe(shared.EventExamPassed, nil))
	assert.Error(t, bus.Publish(nil))
}
