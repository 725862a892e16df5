package camera

import (
	"errors"
	"fmt"

	"github.com/smazurov/svbcapture/pkg/svb"
)

var (
	// ErrNotSupported is returned for controls or settings the device does not offer.
	ErrNotSupported = errors.New("not supported by device")
	// ErrOutOfRange is returned when a value falls outside a control's limits.
	ErrOutOfRange = errors.New("value out of range")
	// ErrReadOnly is returned when writing a control the device marks read-only.
	ErrReadOnly = errors.New("control is read-only")
	// ErrDeviceRejected wraps the device error when a control write fails.
	ErrDeviceRejected = errors.New("device rejected write")
	// ErrStreamingActive is returned by Start while a run is active or still
	// shutting down, and by geometry changes during a run. It matches
	// svb.ErrVideoModeActive.
	ErrStreamingActive = fmt.Errorf("streaming active: %w", svb.ErrVideoModeActive)
	// ErrClosed is returned by operations on a closed camera.
	ErrClosed = errors.New("camera closed")
	// ErrConsumerPanic marks a frame consumer that panicked during delivery.
	ErrConsumerPanic = errors.New("consumer panicked")
)

// ControlError reports a failed control operation.
type ControlError struct {
	Op      string
	Control svb.ControlType
	Err     error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Control, e.Err)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// ConsumerError reports a consumer that failed to handle a frame.
type ConsumerError struct {
	Consumer string
	Seq      uint64
	Err      error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer %s frame %d: %v", e.Consumer, e.Seq, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}
