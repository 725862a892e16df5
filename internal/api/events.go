package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/svbcapture/internal/events"
)

// registerSSERoutes registers the camera event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time capture state, control, frame and hotplug events. The current capture state is sent on connect.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"capture-state":   events.CaptureStateChangedEvent{},
		"capture-error":   events.CaptureErrorEvent{},
		"control-changed": events.ControlChangedEvent{},
		"frame-captured":  events.FrameCapturedEvent{},
		"device-hotplug":  events.DeviceHotplugEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.CaptureStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CaptureErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ControlChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrameCapturedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceHotplugEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(s.currentState()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

// currentState describes the open camera as a state event. Without a camera
// it reports idle with an empty camera name.
func (s *Server) currentState() events.CaptureStateChangedEvent {
	ev := events.CaptureStateChangedEvent{
		State:     "idle",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	cam, err := s.camera()
	if err != nil {
		return ev
	}
	st := captureData(cam.Status())
	ev.Camera = cam.Label()
	ev.RunID = st.RunID
	ev.State = st.State
	ev.Frames = st.Frames
	return ev
}
