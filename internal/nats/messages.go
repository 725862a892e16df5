package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes for NATS topics.
const (
	SubjectCamerasPrefix = "svbcapture.cameras"
	SubjectControlPrefix = "svbcapture.control"
)

// SubjectFrames returns the subject frame metadata for camera goes to.
func SubjectFrames(camera string) string {
	return fmt.Sprintf("%s.%s.frames", SubjectCamerasPrefix, camera)
}

// SubjectState returns the subject state changes for camera go to.
func SubjectState(camera string) string {
	return fmt.Sprintf("%s.%s.state", SubjectCamerasPrefix, camera)
}

// SubjectControl returns the subject commands for camera are sent to.
func SubjectControl(camera string) string {
	return fmt.Sprintf("%s.%s", SubjectControlPrefix, camera)
}

// Control actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionTrigger = "trigger"
	ActionStatus  = "status"
)

// StateMessage represents a capture state change sent over NATS.
type StateMessage struct {
	Camera    string `json:"camera"`
	RunID     string `json:"run_id"`
	State     string `json:"state"`
	Frames    uint64 `json:"frames"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m StateMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlMessage is a command sent to the service.
type ControlMessage struct {
	Action string `json:"action"` // start, stop, trigger, status
	Reason string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlReply answers a ControlMessage.
type ControlReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	State  string `json:"state,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Frames uint64 `json:"frames"`
}

// Marshal serializes the message to JSON.
func (m ControlReply) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalState deserializes a StateMessage from JSON.
func UnmarshalState(data []byte) (StateMessage, error) {
	var m StateMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalReply deserializes a ControlReply from JSON.
func UnmarshalReply(data []byte) (ControlReply, error) {
	var m ControlReply
	err := json.Unmarshal(data, &m)
	return m, err
}
