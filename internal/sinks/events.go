package sinks

import (
	"time"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/events"
)

// EventSink publishes FrameCapturedEvent for one frame in every N.
type EventSink struct {
	bus   *events.Bus
	every uint64
}

// NewEventSink publishes to bus. every below one means every frame.
func NewEventSink(bus *events.Bus, every int) *EventSink {
	if every < 1 {
		every = 1
	}
	return &EventSink{bus: bus, every: uint64(every)}
}

func (s *EventSink) OnFrame(f camera.Frame) error {
	if (f.Seq-1)%s.every != 0 {
		return nil
	}
	s.bus.Publish(events.FrameCapturedEvent{
		Camera:    f.Camera,
		RunID:     f.RunID.String(),
		Seq:       f.Seq,
		Width:     f.Width,
		Height:    f.Height,
		BitDepth:  f.BitDepth,
		Exposure:  f.Exposure.String(),
		Bytes:     len(f.Data),
		Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// StateEvents returns a state listener that publishes
// CaptureStateChangedEvent, plus CaptureErrorEvent when a run fails.
func StateEvents(bus *events.Bus) func(camera.StateChange) {
	return func(sc camera.StateChange) {
		now := time.Now().UTC().Format(time.RFC3339)
		bus.Publish(events.CaptureStateChangedEvent{
			Camera:    sc.Camera,
			RunID:     sc.RunID.String(),
			State:     string(sc.State),
			Frames:    sc.Frames,
			Timestamp: now,
		})
		if sc.Err != nil {
			bus.Publish(events.CaptureErrorEvent{
				Camera:    sc.Camera,
				RunID:     sc.RunID.String(),
				Error:     sc.Err.Error(),
				Timestamp: now,
			})
		}
	}
}

// ControlEvents returns a control listener that publishes ControlChangedEvent.
func ControlEvents(bus *events.Bus) func(camera.ControlChange) {
	return func(cc camera.ControlChange) {
		bus.Publish(events.ControlChangedEvent{
			Camera:    cc.Camera,
			Control:   cc.Control.String(),
			Value:     cc.Value,
			Raw:       cc.Raw.Value,
			Auto:      cc.Raw.Auto,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Fanout combines listeners into one.
func Fanout[T any](fns ...func(T)) func(T) {
	return func(v T) {
		for _, fn := range fns {
			if fn != nil {
				fn(v)
			}
		}
	}
}
