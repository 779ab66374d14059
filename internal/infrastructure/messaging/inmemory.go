// Package messaging delivers domain events between the progress tracker, the
// exam engine and the certification gate. The in-memory bus is the default;
// the Redis bus mirrors events to other instances over pub/sub.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// InMemoryEventBusConfig configures InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// Async runs each delivery on its own goroutine, at most Workers at a
	// time. Sync delivery runs handlers on the publisher's goroutine in
	// subscription order.
	Async   bool
	Workers int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns the synchronous default.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{Workers: 8}
}

// DeliveryStats counts deliveries since the bus was created.
type DeliveryStats struct {
	Published int64
	Delivered int64
	Failed    int64
}

// InMemoryEventBus is an in-process shared.EventBus. A failing or panicking
// handler is logged and does not stop delivery to the others.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[shared.EventType][]shared.EventHandler
	closed   bool

	async   bool
	slots   chan struct{}
	pending sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	logger *slog.Logger
}

// NewInMemoryEventBus creates an in-memory bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultInMemoryEventBusConfig().Workers
	}

	return &InMemoryEventBus{
		handlers: make(map[shared.EventType][]shared.EventHandler),
		async:    config.Async,
		slots:    make(chan struct{}, config.Workers),
		logger:   config.Logger.With("component", "event_bus"),
	}
}

// Subscribe registers handler for eventType.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Publish delivers event to the handlers of its type. Handler errors are not
// returned to the publisher.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := b.handlers[event.EventType()]
	if b.async {
		// Registered under the read lock so Close cannot miss it.
		b.pending.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, h := range handlers {
		if b.async {
			go func(h shared.EventHandler) {
				defer b.pending.Done()
				b.slots <- struct{}{}
				defer func() { <-b.slots }()
				b.deliver(event, h)
			}(h)
			continue
		}
		b.deliver(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, handler shared.EventHandler) {
	if err := invoke(event, handler); err != nil {
		b.failed.Add(1)
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
		return
	}
	b.delivered.Add(1)
}

func invoke(event shared.Event, handler shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, event.EventType(), r)
		}
	}()
	return handler(event)
}

// Stats returns the delivery counters.
func (b *InMemoryEventBus) Stats() DeliveryStats {
	return DeliveryStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Close rejects new events and waits for async deliveries in flight.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()

	stats := b.Stats()
	b.logger.Info("event bus closed",
		"published", stats.Published,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
	)
	return nil
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
