package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// RedisClient is the pub/sub surface the Redis bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received on a subscribed channel.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// Channel defaults to "certification:events".
	Channel string

	// InstanceID tags outgoing envelopes so an instance skips its own
	// events on the way back. Generated when empty.
	InstanceID string

	Local  InMemoryEventBusConfig
	Logger *slog.Logger
}

// RedisEventBus delivers every event locally and mirrors it to a Redis
// channel. Events from other instances are replayed on the local bus as
// payload-only events, so handlers must read fields via the payload.
type RedisEventBus struct {
	client     RedisClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewRedisEventBus subscribes to the channel and starts relaying.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = "certification:events"
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Local.Logger == nil {
		config.Local.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := config.Client.Subscribe(ctx, config.Channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	b := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.Local),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		logger:     config.Logger.With("component", "event_mirror", "channel", config.Channel),
		ctx:        ctx,
		cancel:     cancel,
	}

	b.done.Add(1)
	go b.relay(messages)
	return b, nil
}

// Subscribe registers handler on the local bus.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// Publish delivers event locally and mirrors it. A Redis failure is logged;
// local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if b.ctx.Err() != nil {
		return ErrEventBusClosed
	}

	if data, err := encodeEnvelope(b.instanceID, event); err != nil {
		b.logger.Error("failed to encode event", "event_type", event.EventType(), "error", err)
	} else if err := b.client.Publish(b.ctx, b.channel, data); err != nil {
		b.logger.Error("failed to mirror event", "event_type", event.EventType(), "error", err)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) relay(messages <-chan RedisMessage) {
	defer b.done.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Warn("subscription error", "error", msg.Err)
				continue
			}
			b.replay(msg.Payload)
		}
	}
}

func (b *RedisEventBus) replay(payload string) {
	origin, event, err := decodeEnvelope(payload)
	if err != nil {
		b.logger.Warn("dropping undecodable event", "error", err)
		return
	}
	if origin == b.instanceID {
		return
	}
	if err := b.local.Publish(event); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.logger.Error("failed to replay remote event", "event_type", event.EventType(), "error", err)
	}
}

// Stats returns the local bus delivery counters, remote replays included.
func (b *RedisEventBus) Stats() DeliveryStats {
	return b.local.Stats()
}

// Close stops relaying and closes the local bus.
func (b *RedisEventBus) Close() error {
	if b.ctx.Err() != nil {
		return nil
	}
	b.cancel()
	b.done.Wait()
	return b.local.Close()
}

// envelope is the wire form of an event on the Redis channel.
type envelope struct {
	Origin    string                 `json:"instance_id"`
	Type      shared.EventType       `json:"event_type"`
	Aggregate string                 `json:"aggregate_id"`
	At        time.Time              `json:"occurred_at"`
	Data      map[string]interface{} `json:"payload"`
}

func encodeEnvelope(origin string, event shared.Event) (string, error) {
	data, err := json.Marshal(envelope{
		Origin:    origin,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	return string(data), err
}

func decodeEnvelope(payload string) (string, shared.Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", nil, err
	}
	if env.Type == "" {
		return "", nil, errors.New("envelope has no event type")
	}
	return env.Origin, remoteEvent(env), nil
}

// remoteEvent is an event received from another instance.
type remoteEvent envelope

func (e remoteEvent) EventType() shared.EventType     { return e.Type }
func (e remoteEvent) AggregateID() string             { return e.Aggregate }
func (e remoteEvent) OccurredAt() time.Time           { return e.At }
func (e remoteEvent) Payload() map[string]interface{} { return e.Data }

var _ shared.EventBus = (*RedisEventBus)(nil)
