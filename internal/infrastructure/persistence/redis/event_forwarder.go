package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// EventForwarder republishes domain events on Redis pub/sub so other services
// (notifications, feeds) can react. One channel per event type.
type EventForwarder struct {
	cache   *Cache
	timeout time.Duration
}

// NewEventForwarder creates an EventForwarder.
func NewEventForwarder(cache *Cache) *EventForwarder {
	return &EventForwarder{cache: cache, timeout: time.Second}
}

// Handle implements shared.EventHandler.
func (f *EventForwarder) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.cache.Publish(ctx, PubSubChannel(string(event.EventType())), event); err != nil {
		return fmt.Errorf("forward %s: %w", event.EventType(), err)
	}
	return nil
}

// Attach subscribes the forwarder to every event on the bus.
func (f *EventForwarder) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(f.Handle)
}
