package svb

import "fmt"

// ErrorCode is a status code returned by the vendor SDK. Codes are comparable,
// so errors.Is(err, svb.ErrTimeout) works through any amount of wrapping.
type ErrorCode int32

const (
	ErrInvalidIndex       ErrorCode = 1
	ErrInvalidID          ErrorCode = 2
	ErrInvalidControlType ErrorCode = 3
	ErrCameraClosed       ErrorCode = 4
	ErrCameraRemoved      ErrorCode = 5
	ErrInvalidPath        ErrorCode = 6
	ErrInvalidFileFormat  ErrorCode = 7
	ErrInvalidSize        ErrorCode = 8
	ErrInvalidImageType   ErrorCode = 9
	ErrOutOfBoundary      ErrorCode = 10
	ErrTimeout            ErrorCode = 11
	ErrInvalidSequence    ErrorCode = 12
	ErrBufferTooSmall     ErrorCode = 13
	ErrVideoModeActive    ErrorCode = 14
	ErrExposureInProgress ErrorCode = 15
	ErrGeneral            ErrorCode = 16
	ErrInvalidMode        ErrorCode = 17
	ErrInvalidDirection   ErrorCode = 18
	ErrUnknownSensorType  ErrorCode = 19
)

var errorText = map[ErrorCode]string{
	ErrInvalidIndex:       "invalid camera index",
	ErrInvalidID:          "invalid camera id",
	ErrInvalidControlType: "invalid control type",
	ErrCameraClosed:       "camera not open",
	ErrCameraRemoved:      "camera removed",
	ErrInvalidPath:        "invalid path",
	ErrInvalidFileFormat:  "invalid file format",
	ErrInvalidSize:        "invalid video format size",
	ErrInvalidImageType:   "unsupported image type",
	ErrOutOfBoundary:      "start position out of boundary",
	ErrTimeout:            "timeout",
	ErrInvalidSequence:    "invalid call sequence",
	ErrBufferTooSmall:     "buffer too small",
	ErrVideoModeActive:    "video mode active",
	ErrExposureInProgress: "exposure in progress",
	ErrGeneral:            "general error",
	ErrInvalidMode:        "invalid mode",
	ErrInvalidDirection:   "invalid guide direction",
	ErrUnknownSensorType:  "unknown sensor type",
}

func (e ErrorCode) Error() string {
	if s, ok := errorText[e]; ok {
		return "svb: " + s
	}
	return fmt.Sprintf("svb: error %d", int32(e))
}

// Code returns the numeric vendor code.
func (e ErrorCode) Code() int32 {
	return int32(e)
}

// FromCode converts a raw SDK return value into an error. Zero is success and
// returns nil; codes this package does not know collapse to ErrGeneral.
func FromCode(code int32) error {
	if code == 0 {
		return nil
	}
	e := ErrorCode(code)
	if _, ok := errorText[e]; !ok {
		return ErrGeneral
	}
	return e
}
