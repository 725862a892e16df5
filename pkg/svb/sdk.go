// Package svb describes the vendor camera SDK as a Go interface, along with the
// value types and status codes it exchanges. A cgo binding to the vendor
// library is built with the svbsdk tag; package sim provides an in-memory
// implementation.
package svb

import (
	"errors"
	"fmt"
)

// SDK is the device query surface used by the acquisition core. Every method
// except NumCameras and CameraInfo takes the camera ID obtained from
// CameraInfo and requires the camera to be open.
//
// Implementations must allow StopCapture to be called from one goroutine
// while another is blocked in VideoData.
type SDK interface {
	NumCameras() int
	CameraInfo(index int) (CameraInfo, error)
	Version() string

	Open(id int32) error
	Close(id int32) error

	Property(id int32) (Property, error)
	PixelSize(id int32) (float32, error)
	SupportsTemperatureControl(id int32) (bool, error)

	NumControls(id int32) (int, error)
	ControlCaps(id int32, index int) (ControlCaps, error)
	ControlValue(id int32, ctrl ControlType) (ControlValue, error)
	SetControlValue(id int32, ctrl ControlType, value int32, auto bool) error
	RestoreDefaults(id int32) error

	OutputImageType(id int32) (ImageType, error)
	SetOutputImageType(id int32, t ImageType) error
	ROIFormat(id int32) (ROI, error)
	SetROIFormat(id int32, roi ROI) error
	CameraMode(id int32) (CameraMode, error)
	SetCameraMode(id int32, mode CameraMode) error

	StartCapture(id int32) error
	StopCapture(id int32) error
	// VideoData fills buf with the next frame, waiting at most waitMs
	// milliseconds. It returns ErrTimeout when no frame arrived in time.
	VideoData(id int32, buf []byte, waitMs int32) error
	DroppedFrames(id int32) (int, error)
	SendSoftTrigger(id int32) error
	WhiteBalanceOnce(id int32) error
}

// ErrNoSDK is returned by Default when the binary was built without the
// vendor library.
var ErrNoSDK = errors.New("svb: built without vendor SDK (rebuild with -tags svbsdk)")

// ConnectedCameras lists every camera the SDK currently reports.
func ConnectedCameras(sdk SDK) ([]CameraInfo, error) {
	n := sdk.NumCameras()
	out := make([]CameraInfo, 0, n)
	for i := range n {
		info, err := sdk.CameraInfo(i)
		if err != nil {
			return nil, fmt.Errorf("camera info %d: %w", i, err)
		}
		out = append(out, info)
	}
	return out, nil
}
