//go:build svbsdk && cgo

package svb

/*
#cgo CFLAGS: -I${SRCDIR}/../../third_party/SVBCameraSDK/include
#cgo linux,amd64 LDFLAGS: -L${SRCDIR}/../../third_party/SVBCameraSDK/lib/x64 -lSVBCameraSDK -lstdc++ -lusb-1.0 -lpthread
#cgo linux,arm64 LDFLAGS: -L${SRCDIR}/../../third_party/SVBCameraSDK/lib/arm64 -lSVBCameraSDK -lstdc++ -lusb-1.0 -lpthread
#include <stdlib.h>
#include "SVBCameraSDK.h"
*/
import "C"

import (
	"unsafe"
)

type cgoSDK struct{}

// Default returns the binding to the vendor library linked into this binary.
func Default() (SDK, error) {
	return cgoSDK{}, nil
}

func cbool(b bool) C.SVB_BOOL {
	if b {
		return C.SVB_TRUE
	}
	return C.SVB_FALSE
}

func check(rc C.SVB_ERROR_CODE) error {
	return FromCode(int32(rc))
}

func (cgoSDK) NumCameras() int {
	return int(C.SVBGetNumOfConnectedCameras())
}

func (cgoSDK) CameraInfo(index int) (CameraInfo, error) {
	var ci C.SVB_CAMERA_INFO
	if err := check(C.SVBGetCameraInfo(&ci, C.int(index))); err != nil {
		return CameraInfo{}, err
	}
	return CameraInfo{
		FriendlyName: C.GoString(&ci.FriendlyName[0]),
		SerialNumber: C.GoString(&ci.CameraSN[0]),
		PortType:     C.GoString(&ci.PortType[0]),
		DeviceID:     uint32(ci.DeviceID),
		CameraID:     int32(ci.CameraID),
	}, nil
}

func (cgoSDK) Version() string {
	return C.GoString(C.SVBGetSDKVersion())
}

func (cgoSDK) Open(id int32) error  { return check(C.SVBOpenCamera(C.int(id))) }
func (cgoSDK) Close(id int32) error { return check(C.SVBCloseCamera(C.int(id))) }

func (cgoSDK) Property(id int32) (Property, error) {
	var cp C.SVB_CAMERA_PROPERTY
	if err := check(C.SVBGetCameraProperty(C.int(id), &cp)); err != nil {
		return Property{}, err
	}
	p := Property{
		MaxWidth:      int32(cp.MaxWidth),
		MaxHeight:     int32(cp.MaxHeight),
		IsColor:       cp.IsColorCam == C.SVB_TRUE,
		BayerPattern:  BayerPattern(cp.BayerPattern),
		MaxBitDepth:   int32(cp.MaxBitDepth),
		IsTriggerable: cp.IsTriggerCam == C.SVB_TRUE,
	}
	for _, b := range cp.SupportedBins {
		if b == 0 {
			break
		}
		p.SupportedBins = append(p.SupportedBins, int32(b))
	}
	for _, f := range cp.SupportedVideoFormat {
		if ImageType(f) == ImageTypeEnd {
			break
		}
		p.SupportedFormats = append(p.SupportedFormats, ImageType(f))
	}
	return p, nil
}

func (cgoSDK) PixelSize(id int32) (float32, error) {
	var size C.float
	if err := check(C.SVBGetSensorPixelSize(C.int(id), &size)); err != nil {
		return 0, err
	}
	return float32(size), nil
}

func (cgoSDK) SupportsTemperatureControl(id int32) (bool, error) {
	var ex C.SVB_CAMERA_PROPERTY_EX
	if err := check(C.SVBGetCameraPropertyEx(C.int(id), &ex)); err != nil {
		return false, err
	}
	return ex.bSupportControlTemp == C.SVB_TRUE, nil
}

func (cgoSDK) NumControls(id int32) (int, error) {
	var n C.int
	if err := check(C.SVBGetNumOfControls(C.int(id), &n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (cgoSDK) ControlCaps(id int32, index int) (ControlCaps, error) {
	var cc C.SVB_CONTROL_CAPS
	if err := check(C.SVBGetControlCaps(C.int(id), C.int(index), &cc)); err != nil {
		return ControlCaps{}, err
	}
	return ControlCaps{
		Type:          ControlType(cc.ControlType),
		Name:          C.GoString(&cc.Name[0]),
		Description:   C.GoString(&cc.Description[0]),
		Min:           int32(cc.MinValue),
		Max:           int32(cc.MaxValue),
		Default:       int32(cc.DefaultValue),
		AutoSupported: cc.IsAutoSupported == C.SVB_TRUE,
		Writable:      cc.IsWritable == C.SVB_TRUE,
	}, nil
}

func (cgoSDK) ControlValue(id int32, ctrl ControlType) (ControlValue, error) {
	var (
		v    C.long
		auto C.SVB_BOOL
	)
	if err := check(C.SVBGetControlValue(C.int(id), C.SVB_CONTROL_TYPE(ctrl), &v, &auto)); err != nil {
		return ControlValue{}, err
	}
	return ControlValue{Value: int32(v), Auto: auto == C.SVB_TRUE}, nil
}

func (cgoSDK) SetControlValue(id int32, ctrl ControlType, value int32, auto bool) error {
	return check(C.SVBSetControlValue(C.int(id), C.SVB_CONTROL_TYPE(ctrl), C.long(value), cbool(auto)))
}

func (cgoSDK) RestoreDefaults(id int32) error {
	return check(C.SVBRestoreDefaultParam(C.int(id)))
}

func (cgoSDK) OutputImageType(id int32) (ImageType, error) {
	var t C.SVB_IMG_TYPE
	if err := check(C.SVBGetOutputImageType(C.int(id), &t)); err != nil {
		return ImageTypeEnd, err
	}
	return ImageType(t), nil
}

func (cgoSDK) SetOutputImageType(id int32, t ImageType) error {
	return check(C.SVBSetOutputImageType(C.int(id), C.SVB_IMG_TYPE(t)))
}

func (cgoSDK) ROIFormat(id int32) (ROI, error) {
	var x, y, w, h, bin C.int
	if err := check(C.SVBGetROIFormat(C.int(id), &x, &y, &w, &h, &bin)); err != nil {
		return ROI{}, err
	}
	return ROI{StartX: int32(x), StartY: int32(y), Width: int32(w), Height: int32(h), Bin: int32(bin)}, nil
}

func (cgoSDK) SetROIFormat(id int32, r ROI) error {
	return check(C.SVBSetROIFormat(C.int(id), C.int(r.StartX), C.int(r.StartY), C.int(r.Width), C.int(r.Height), C.int(r.Bin)))
}

func (cgoSDK) CameraMode(id int32) (CameraMode, error) {
	var m C.SVB_CAMERA_MODE
	if err := check(C.SVBGetCameraMode(C.int(id), &m)); err != nil {
		return ModeNormal, err
	}
	return CameraMode(m), nil
}

func (cgoSDK) SetCameraMode(id int32, mode CameraMode) error {
	return check(C.SVBSetCameraMode(C.int(id), C.SVB_CAMERA_MODE(mode)))
}

func (cgoSDK) StartCapture(id int32) error { return check(C.SVBStartVideoCapture(C.int(id))) }
func (cgoSDK) StopCapture(id int32) error  { return check(C.SVBStopVideoCapture(C.int(id))) }

func (cgoSDK) VideoData(id int32, buf []byte, waitMs int32) error {
	if len(buf) == 0 {
		return ErrBufferTooSmall
	}
	return check(C.SVBGetVideoData(C.int(id), (*C.uchar)(unsafe.Pointer(&buf[0])), C.long(len(buf)), C.int(waitMs)))
}

func (cgoSDK) DroppedFrames(id int32) (int, error) {
	var n C.int
	if err := check(C.SVBGetDroppedFrames(C.int(id), &n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (cgoSDK) SendSoftTrigger(id int32) error  { return check(C.SVBSendSoftTrigger(C.int(id))) }
func (cgoSDK) WhiteBalanceOnce(id int32) error { return check(C.SVBWhiteBalanceOnce(C.int(id))) }
