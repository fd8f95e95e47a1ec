package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Each sensor context owns one bus,
// created at init and closed at shutdown. Handlers for the same event type
// run in an unspecified order.
type Bus struct {
	dispatcher *event.Dispatcher
	closed     atomic.Bool

	mu     sync.Mutex
	nextID uint64
	cancel map[uint64]func()
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
		cancel:     make(map[uint64]func()),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(DeviceConnectedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	switch e := ev.(type) {
	case DeviceConnectedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceDisconnectedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case RecorderStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case PlaybackEndedEvent:
		event.Publish(b.dispatcher, e)
	case StreamMetricsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type of its argument and returns
// an unsubscribe function. Unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e DeviceConnectedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(DeviceConnectedEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(DeviceDisconnectedEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(DeviceStateChangedEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(StreamStateChangedEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(RecorderStateChangedEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(PlaybackEndedEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(StreamMetricsEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	case func(LogEntryEvent):
		return b.track(event.Subscribe(b.dispatcher, h))
	default:
		return func() {}
	}
}

// track remembers cancel so Close can tear the subscription down.
func (b *Bus) track(cancel func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		cancel()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.cancel[id] = cancel

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.cancel, id)
			b.mu.Unlock()
			cancel()
		})
	}
}

// Close drops every subscription and turns Publish into a no-op. Safe to call
// more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return
	}
	for id, cancel := range b.cancel {
		cancel()
		delete(b.cancel, id)
	}
}
