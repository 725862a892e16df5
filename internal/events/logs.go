package events

import (
	"time"

	"github.com/smazurov/svbcapture/internal/logging"
)

// NewLogEntryEvent converts a history entry for publishing.
func NewLogEntryEvent(e logging.Entry) LogEntryEvent {
	return LogEntryEvent{
		Timestamp:  e.Time.Format(time.RFC3339Nano),
		Level:      e.Level,
		Module:     e.Module,
		Message:    e.Message,
		Attributes: e.Attributes,
	}
}

// ForwardLogs publishes every new log entry on bus until the returned
// function is called.
func ForwardLogs(bus *Bus) (stop func()) {
	logging.OnEntry(func(e logging.Entry) {
		bus.Publish(NewLogEntryEvent(e))
	})
	return func() { logging.OnEntry(nil) }
}
