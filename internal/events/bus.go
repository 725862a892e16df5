package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(ControlChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case CaptureStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureErrorEvent:
		event.Publish(b.dispatcher, e)
	case ControlChangedEvent:
		event.Publish(b.dispatcher, e)
	case FrameCapturedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceHotplugEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects the events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ControlChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameCapturedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceHotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
