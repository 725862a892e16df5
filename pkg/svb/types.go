package svb

import (
	"fmt"
	"strings"
)

// ControlType identifies a runtime-configurable sensor control.
type ControlType int32

// Control types as numbered by the vendor SDK.
const (
	Gain ControlType = iota
	Exposure
	Gamma
	GammaContrast
	WBRed
	WBGreen
	WBBlue
	Flip
	FrameSpeedMode
	Contrast
	Sharpness
	Saturation
	AutoTargetBrightness
	BlackLevel
	CoolerEnable
	TargetTemperature
	CurrentTemperature
	CoolerPower
	BadPixelCorrectionEnable
	BadPixelCorrectionThreshold
)

var controlNames = [...]string{
	Gain:                        "gain",
	Exposure:                    "exposure",
	Gamma:                       "gamma",
	GammaContrast:               "gamma_contrast",
	WBRed:                       "wb_red",
	WBGreen:                     "wb_green",
	WBBlue:                      "wb_blue",
	Flip:                        "flip",
	FrameSpeedMode:              "frame_speed_mode",
	Contrast:                    "contrast",
	Sharpness:                   "sharpness",
	Saturation:                  "saturation",
	AutoTargetBrightness:        "auto_target_brightness",
	BlackLevel:                  "black_level",
	CoolerEnable:                "cooler_enable",
	TargetTemperature:           "target_temperature",
	CurrentTemperature:          "current_temperature",
	CoolerPower:                 "cooler_power",
	BadPixelCorrectionEnable:    "bad_pixel_correction_enable",
	BadPixelCorrectionThreshold: "bad_pixel_correction_threshold",
}

func (c ControlType) String() string {
	if c >= 0 && int(c) < len(controlNames) {
		return controlNames[c]
	}
	return fmt.Sprintf("control(%d)", int32(c))
}

// Valid reports whether c is a control type known to this package.
func (c ControlType) Valid() bool {
	return c >= 0 && int(c) < len(controlNames)
}

// ControlTypes returns every known control type in numeric order.
func ControlTypes() []ControlType {
	out := make([]ControlType, len(controlNames))
	for i := range controlNames {
		out[i] = ControlType(i)
	}
	return out
}

// ParseControlType accepts the snake_case name ("gain", "wb_red") case-insensitively.
func ParseControlType(s string) (ControlType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for i, name := range controlNames {
		if name == s {
			return ControlType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown control %q", s)
}

// ControlCaps describes one control as reported by the device at connect time.
// Values are in device units.
type ControlCaps struct {
	Type          ControlType `json:"type"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Min           int32       `json:"min"`
	Max           int32       `json:"max"`
	Default       int32       `json:"default"`
	AutoSupported bool        `json:"auto_supported"`
	Writable      bool        `json:"writable"`
}

// Clamp limits v to [Min, Max].
func (c ControlCaps) Clamp(v int32) int32 {
	return min(max(v, c.Min), c.Max)
}

// Contains reports whether v lies within [Min, Max].
func (c ControlCaps) Contains(v int32) bool {
	return v >= c.Min && v <= c.Max
}

func (c ControlCaps) String() string {
	return fmt.Sprintf("%s [%d..%d] default=%d auto=%t writable=%t",
		c.Name, c.Min, c.Max, c.Default, c.AutoSupported, c.Writable)
}

// ControlValue is a raw control reading.
type ControlValue struct {
	Value int32 `json:"value"`
	Auto  bool  `json:"auto"`
}

// BayerPattern is the colour filter layout of a colour sensor.
type BayerPattern int32

const (
	BayerRG BayerPattern = iota
	BayerBG
	BayerGR
	BayerGB
)

func (b BayerPattern) String() string {
	switch b {
	case BayerRG:
		return "RG"
	case BayerBG:
		return "BG"
	case BayerGR:
		return "GR"
	case BayerGB:
		return "GB"
	}
	return fmt.Sprintf("bayer(%d)", int32(b))
}

// ImageType is the pixel format produced by the sensor readout.
type ImageType int32

const (
	ImageRaw8    ImageType = 0
	ImageRaw10   ImageType = 2
	ImageRaw12   ImageType = 3
	ImageRaw14   ImageType = 4
	ImageRaw16   ImageType = 5
	ImageY8      ImageType = 6
	ImageY10     ImageType = 7
	ImageY12     ImageType = 8
	ImageY14     ImageType = 9
	ImageY16     ImageType = 10
	ImageRGB24   ImageType = 11
	ImageRGB32   ImageType = 12
	ImageTypeEnd ImageType = -1
)

var imageTypeNames = map[ImageType]string{
	ImageRaw8:  "RAW8",
	ImageRaw10: "RAW10",
	ImageRaw12: "RAW12",
	ImageRaw14: "RAW14",
	ImageRaw16: "RAW16",
	ImageY8:    "Y8",
	ImageY10:   "Y10",
	ImageY12:   "Y12",
	ImageY14:   "Y14",
	ImageY16:   "Y16",
	ImageRGB24: "RGB24",
	ImageRGB32: "RGB32",
}

func (t ImageType) String() string {
	if name, ok := imageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("image(%d)", int32(t))
}

// ParseImageType accepts names such as "raw16" or "Y8".
func ParseImageType(s string) (ImageType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for t, name := range imageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return ImageTypeEnd, fmt.Errorf("unknown image type %q", s)
}

// BytesPerPixel is the storage size of one pixel. Unknown types report 0.
func (t ImageType) BytesPerPixel() int {
	switch t {
	case ImageRaw8, ImageY8:
		return 1
	case ImageRaw10, ImageRaw12, ImageRaw14, ImageRaw16,
		ImageY10, ImageY12, ImageY14, ImageY16:
		return 2
	case ImageRGB24:
		return 3
	case ImageRGB32:
		return 4
	}
	return 0
}

// BitDepth is the number of significant bits per sample.
func (t ImageType) BitDepth() int {
	switch t {
	case ImageRaw8, ImageY8, ImageRGB24, ImageRGB32:
		return 8
	case ImageRaw10, ImageY10:
		return 10
	case ImageRaw12, ImageY12:
		return 12
	case ImageRaw14, ImageY14:
		return 14
	case ImageRaw16, ImageY16:
		return 16
	}
	return 0
}

// Color reports whether t carries colour channels.
func (t ImageType) Color() bool {
	return t == ImageRGB24 || t == ImageRGB32
}

// CameraMode selects free-running or triggered acquisition.
type CameraMode int32

const (
	ModeNormal CameraMode = iota
	ModeTrigSoft
	ModeTrigRiseEdge
	ModeTrigFallEdge
	ModeTrigDoubleEdge
	ModeTrigHighLevel
	ModeTrigLowLevel
)

func (m CameraMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeTrigSoft:
		return "trig_soft"
	case ModeTrigRiseEdge:
		return "trig_rise_edge"
	case ModeTrigFallEdge:
		return "trig_fall_edge"
	case ModeTrigDoubleEdge:
		return "trig_double_edge"
	case ModeTrigHighLevel:
		return "trig_high_level"
	case ModeTrigLowLevel:
		return "trig_low_level"
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// CameraInfo identifies a connected camera before it is opened.
type CameraInfo struct {
	FriendlyName string `json:"friendly_name"`
	SerialNumber string `json:"serial_number"`
	PortType     string `json:"port_type"`
	DeviceID     uint32 `json:"device_id"`
	CameraID     int32  `json:"camera_id"`
}

func (i CameraInfo) String() string {
	return fmt.Sprintf("%s (serial %s, %s, id %d)", i.FriendlyName, i.SerialNumber, i.PortType, i.CameraID)
}

// Property is the fixed sensor geometry and capability snapshot.
type Property struct {
	MaxWidth         int32        `json:"max_width"`
	MaxHeight        int32        `json:"max_height"`
	IsColor          bool         `json:"is_color"`
	BayerPattern     BayerPattern `json:"bayer_pattern"`
	SupportedBins    []int32      `json:"supported_bins"`
	SupportedFormats []ImageType  `json:"supported_formats"`
	MaxBitDepth      int32        `json:"max_bit_depth"`
	IsTriggerable    bool         `json:"is_triggerable"`
}

// SupportsBin reports whether bin is one of the supported binning factors.
func (p Property) SupportsBin(bin int32) bool {
	for _, b := range p.SupportedBins {
		if b == bin {
			return true
		}
	}
	return false
}

// SupportsFormat reports whether t is one of the supported output image types.
func (p Property) SupportsFormat(t ImageType) bool {
	for _, f := range p.SupportedFormats {
		if f == t {
			return true
		}
	}
	return false
}

// ROI is the readout region in binned pixel coordinates.
type ROI struct {
	StartX int32 `json:"start_x"`
	StartY int32 `json:"start_y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
	Bin    int32 `json:"bin"`
}

// FrameSize is the buffer size in bytes for one frame of this region.
func (r ROI) FrameSize(t ImageType) int {
	return int(r.Width) * int(r.Height) * t.BytesPerPixel()
}

func (r ROI) String() string {
	return fmt.Sprintf("%dx%d+%d+%d bin%d", r.Width, r.Height, r.StartX, r.StartY, r.Bin)
}
