package events

// Event type constants for kelindar/event.
const (
	TypeCaptureStateChanged uint32 = iota + 1
	TypeCaptureError
	TypeControlChanged
	TypeFrameCaptured
	TypeDeviceHotplug
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureStateChangedEvent is published on every acquisition state transition.
type CaptureStateChangedEvent struct {
	Camera    string `json:"camera" example:"SIM0000001" doc:"Camera serial number"`
	RunID     string `json:"run_id" example:"9b2f2c1e-4c1a-4d0f-9d7e-0f1b3c7a2e10" doc:"Acquisition run identifier"`
	State     string `json:"state" example:"capturing" enum:"idle,capturing,stopping" doc:"New state"`
	Frames    uint64 `json:"frames" example:"120" doc:"Frames delivered so far in the run"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStateChangedEvent.
func (e CaptureStateChangedEvent) Type() uint32 { return TypeCaptureStateChanged }

// CaptureErrorEvent is published when a run ends with an error.
type CaptureErrorEvent struct {
	Camera    string `json:"camera" example:"SIM0000001" doc:"Camera serial number"`
	RunID     string `json:"run_id" doc:"Acquisition run identifier"`
	Error     string `json:"error" example:"read frame 3 (wait 560 ms): camera removed" doc:"Error that ended the run"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// ControlChangedEvent is published after a control write was read back.
type ControlChangedEvent struct {
	Camera    string  `json:"camera" example:"SIM0000001" doc:"Camera serial number"`
	Control   string  `json:"control" example:"exposure" doc:"Control name"`
	Value     float64 `json:"value" example:"0.1" doc:"Applied value in domain units"`
	Raw       int32   `json:"raw" example:"100000" doc:"Applied value in device units"`
	Auto      bool    `json:"auto" doc:"Whether the device adjusts the control itself"`
	Timestamp string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ControlChangedEvent.
func (e ControlChangedEvent) Type() uint32 { return TypeControlChanged }

// FrameCapturedEvent carries per-frame metadata. Pixel data is never published.
type FrameCapturedEvent struct {
	Camera    string `json:"camera" example:"SIM0000001" doc:"Camera serial number"`
	RunID     string `json:"run_id" doc:"Acquisition run identifier"`
	Seq       uint64 `json:"seq" example:"42" doc:"Frame sequence number within the run"`
	Width     int    `json:"width" example:"1920" doc:"Frame width in pixels"`
	Height    int    `json:"height" example:"1080" doc:"Frame height in pixels"`
	BitDepth  int    `json:"bit_depth" example:"16" doc:"Bits per sample"`
	Exposure  string `json:"exposure" example:"100ms" doc:"Exposure in effect when the frame was read"`
	Bytes     int    `json:"bytes" example:"4147200" doc:"Frame payload size"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00.123456789Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// DeviceHotplugEvent reports an SVBony USB device being attached or removed.
type DeviceHotplugEvent struct {
	Action    string `json:"action" example:"remove" enum:"add,remove" doc:"Hotplug action"`
	DevPath   string `json:"devpath" example:"/devices/pci0000:00/0000:00:14.0/usb2/2-1" doc:"Kernel device path"`
	ProductID string `json:"product_id" example:"9a0a" doc:"USB product ID"`
	Serial    string `json:"serial,omitempty" doc:"USB serial string when known"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceHotplugEvent.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"camera" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
