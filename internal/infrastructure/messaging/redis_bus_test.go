package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// fakeBroker fans published messages out to every subscriber.
type fakeBroker struct {
	mu   sync.Mutex
	subs []chan RedisMessage
	down bool
}

type fakeRedisClient struct {
	broker *fakeBroker
}

func (c *fakeRedisClient) Publish(_ context.Context, channel string, message interface{}) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.broker.down {
		return errors.New("connection refused")
	}
	for _, ch := range c.broker.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c *fakeRedisClient) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeRedisClient) Close() error { return nil }

func TestRedisEventBus_MirrorsToOtherInstances(t *testing.T) {
	broker := &fakeBroker{}

	publisher, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeRedisClient{broker}, InstanceID: "a"})
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeRedisClient{broker}, InstanceID: "b"})
	require.NoError(t, err)
	defer receiver.Close()

	var local atomic.Int32
	require.NoError(t, publisher.Subscribe(shared.EventExamPassed, func(shared.Event) error {
		local.Add(1)
		return nil
	}))

	remote := make(chan shared.Event, 1)
	require.NoError(t, receiver.Subscribe(shared.EventExamPassed, func(e shared.Event) error {
		remote <- e
		return nil
	}))

	require.NoError(t, publisher.Publish(shared.NewExamPassedEvent("att-7", "u1", "go-101", 85)))

	select {
	case e := <-remote:
		assert.Equal(t, shared.EventExamPassed, e.EventType())
		assert.Equal(t, "u1", shared.PayloadString(e, "user_id"))
		assert.Equal(t, "go-101", shared.PayloadString(e, "course_id"))
		assert.Equal(t, "att-7", e.AggregateID())
	case <-time.After(time.Second):
		t.Fatal("remote instance did not receive the event")
	}

	// The publisher handles its own event once, not again from Redis.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), local.Load())
	assert.EqualValues(t, 1, receiver.Stats().Delivered)
}

func TestRedisEventBus_DeliversLocallyWhenRedisFails(t *testing.T) {
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeRedisClient{&fakeBroker{down: true}}})
	require.NoError(t, err)

	var got atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventContentCompleted, func(shared.Event) error {
		got.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewContentCompletedEvent("u1", "go-101")))
	assert.Equal(t, int32(1), got.Load())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewContentCompletedEvent("u1", "go-101")), ErrEventBusClosed)
}

func TestDecodeEnvelope(t *testing.T) {
	data, err := encodeEnvelope("a", shared.NewContentCompletedEvent("u1", "go-101"))
	require.NoError(t, err)

	origin, event, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "a", origin)
	assert.Equal(t, shared.EventContentCompleted, event.EventType())
	assert.Equal(t, "u1", shared.PayloadString(event, "user_id"))

	_, _, err = decodeEnvelope(`{"instance_id":"a"}`)
	assert.Error(t, err)
	_, _, err = decodeEnvelope(`not json`)
	assert.Error(t, err)
}
