package svb_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

func TestFromCode(t *testing.T) {
	tests := []struct {
		code int32
		want error
	}{
		{0, nil},
		{11, svb.ErrTimeout},
		{14, svb.ErrVideoModeActive},
		{5, svb.ErrCameraRemoved},
		{99, svb.ErrGeneral},
		{-3, svb.ErrGeneral},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			got := svb.FromCode(tt.code)
			if got != tt.want {
				t.Errorf("FromCode(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestErrorCodeMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("read frame: %w", svb.FromCode(11))
	if !errors.Is(err, svb.ErrTimeout) {
		t.Errorf("wrapped timeout not matched: %v", err)
	}
	if errors.Is(err, svb.ErrGeneral) {
		t.Error("timeout matched general error")
	}

	var code svb.ErrorCode
	if !errors.As(err, &code) || code.Code() != 11 {
		t.Errorf("errors.As code = %d, want 11", code.Code())
	}
}

func TestParseControlType(t *testing.T) {
	for _, ct := range svb.ControlTypes() {
		got, err := svb.ParseControlType(ct.String())
		if err != nil || got != ct {
			t.Errorf("ParseControlType(%q) = %v, %v", ct.String(), got, err)
		}
	}
	if got, err := svb.ParseControlType(" WB-Red "); err != nil || got != svb.WBRed {
		t.Errorf("ParseControlType(WB-Red) = %v, %v", got, err)
	}
	if _, err := svb.ParseControlType("zoom"); err == nil {
		t.Error("expected error for unknown control")
	}
	if svb.ControlType(42).Valid() {
		t.Error("control 42 reported valid")
	}
}

func TestImageTypeGeometry(t *testing.T) {
	tests := []struct {
		typ   svb.ImageType
		bpp   int
		depth int
	}{
		{svb.ImageRaw8, 1, 8},
		{svb.ImageRaw12, 2, 12},
		{svb.ImageY16, 2, 16},
		{svb.ImageRGB24, 3, 8},
		{svb.ImageRGB32, 4, 8},
		{svb.ImageTypeEnd, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.typ.BytesPerPixel(); got != tt.bpp {
			t.Errorf("%v.BytesPerPixel() = %d, want %d", tt.typ, got, tt.bpp)
		}
		if got := tt.typ.BitDepth(); got != tt.depth {
			t.Errorf("%v.BitDepth() = %d, want %d", tt.typ, got, tt.depth)
		}
	}

	roi := svb.ROI{Width: 640, Height: 480, Bin: 1}
	if got := roi.FrameSize(svb.ImageRaw16); got != 640*480*2 {
		t.Errorf("FrameSize = %d", got)
	}
	if got, err := svb.ParseImageType("raw16"); err != nil || got != svb.ImageRaw16 {
		t.Errorf("ParseImageType(raw16) = %v, %v", got, err)
	}
}

func TestControlCapsClamp(t *testing.T) {
	cc := svb.ControlCaps{Min: 0, Max: 100}
	if got := cc.Clamp(150); got != 100 {
		t.Errorf("Clamp(150) = %d", got)
	}
	if got := cc.Clamp(-5); got != 0 {
		t.Errorf("Clamp(-5) = %d", got)
	}
	if cc.Contains(101) || !cc.Contains(100) {
		t.Error("Contains bounds wrong")
	}
}

func TestConnectedCameras(t *testing.T) {
	sdk := sim.New(sim.DefaultCamera(), sim.DefaultCamera())
	cams, err := svb.ConnectedCameras(sdk)
	if err != nil {
		t.Fatalf("ConnectedCameras: %v", err)
	}
	if len(cams) != 2 {
		t.Fatalf("got %d cameras, want 2", len(cams))
	}
	if cams[1].CameraID != 1 {
		t.Errorf("second camera id = %d, want 1", cams[1].CameraID)
	}

	sdk.Unplug(0)
	cams, err = svb.ConnectedCameras(sdk)
	if err != nil || len(cams) != 1 || cams[0].CameraID != 1 {
		t.Errorf("after unplug: %+v, %v", cams, err)
	}
}
