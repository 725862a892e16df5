// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"time"

	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/internal/metrics"
	"github.com/smazurov/svbcapture/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Camera  bool   `json:"camera" example:"true" doc:"Whether a camera is open"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Camera models
type ROIData struct {
	StartX int32 `json:"start_x" example:"0" minimum:"0" doc:"Left edge in binned pixels"`
	StartY int32 `json:"start_y" example:"0" minimum:"0" doc:"Top edge in binned pixels"`
	Width  int32 `json:"width" example:"1920" minimum:"1" doc:"Width in binned pixels"`
	Height int32 `json:"height" example:"1080" minimum:"1" doc:"Height in binned pixels"`
	Bin    int32 `json:"bin" example:"1" minimum:"1" doc:"Binning factor"`
}

type CameraData struct {
	Name             string      `json:"name" example:"SVBONY SV305M" doc:"Friendly name"`
	Serial           string      `json:"serial" example:"SIM0000001" doc:"Serial number"`
	Port             string      `json:"port" example:"USB3.0" doc:"Connection type"`
	CameraID         int32       `json:"camera_id" example:"0" doc:"SDK camera identifier"`
	MaxWidth         int32       `json:"max_width" example:"1920" doc:"Sensor width in pixels"`
	MaxHeight        int32       `json:"max_height" example:"1080" doc:"Sensor height in pixels"`
	Color            bool        `json:"color" example:"false" doc:"Whether the sensor has a colour filter"`
	Bayer            string      `json:"bayer,omitempty" example:"RG" doc:"Bayer pattern of a colour sensor"`
	MaxBitDepth      int32       `json:"max_bit_depth" example:"12" doc:"Native ADC bit depth"`
	PixelPitch       float32     `json:"pixel_pitch_um" example:"2.9" doc:"Pixel pitch in micrometres"`
	SupportedBins    []int32     `json:"supported_bins" doc:"Available binning factors"`
	SupportedFormats []string    `json:"supported_formats" doc:"Available output image types"`
	Triggerable      bool        `json:"triggerable" example:"true" doc:"Whether the camera accepts triggers"`
	ROI              ROIData     `json:"roi" doc:"Current readout region"`
	ImageType        string      `json:"image_type" example:"RAW16" doc:"Current output image type"`
	Mode             string      `json:"mode" example:"normal" doc:"Current trigger mode"`
	DroppedFrames    int         `json:"dropped_frames" example:"0" doc:"Frames dropped by the SDK"`
	Status           CaptureData `json:"status" doc:"Acquisition state"`
}

type CameraResponse struct {
	Body CameraData
}

type ROIRequest struct {
	Body ROIData
}

type ImageTypeRequest struct {
	Body struct {
		ImageType string `json:"image_type" example:"RAW16" doc:"Output image type"`
	}
}

// Control models
type ControlData struct {
	Name          string  `json:"name" example:"exposure" doc:"Control name"`
	Description   string  `json:"description" example:"Exposure Time(us)" doc:"Device description"`
	Unit          string  `json:"unit,omitempty" example:"s" doc:"Unit of value, min, max and default"`
	Value         float64 `json:"value" example:"0.03" doc:"Current value"`
	Auto          bool    `json:"auto" example:"false" doc:"Whether the device adjusts the value itself"`
	Min           float64 `json:"min" example:"0.000029" doc:"Minimum value"`
	Max           float64 `json:"max" example:"2000" doc:"Maximum value"`
	Default       float64 `json:"default" example:"0.03" doc:"Default value"`
	AutoSupported bool    `json:"auto_supported" example:"true" doc:"Whether auto mode is available"`
	Writable      bool    `json:"writable" example:"true" doc:"Whether the control can be written"`
}

type ControlListData struct {
	Controls []ControlData `json:"controls" doc:"Controls offered by the camera"`
	Count    int           `json:"count" example:"9" doc:"Number of controls"`
}

type ControlListResponse struct {
	Body ControlListData
}

type ControlResponse struct {
	Body ControlData
}

type ControlPathInput struct {
	Control string `path:"control" example:"gain" doc:"Control name"`
}

type ControlUpdateRequest struct {
	Control string `path:"control" example:"gain" doc:"Control name"`
	Body    struct {
		Value *float64 `json:"value,omitempty" example:"30" doc:"New value, omit to change only auto mode"`
		Auto  *bool    `json:"auto,omitempty" example:"false" doc:"Auto mode, omit to leave unchanged"`
	}
}

// Capture models
type CaptureData struct {
	State     string    `json:"state" example:"capturing" enum:"idle,capturing,stopping" doc:"Acquisition state"`
	RunID     string    `json:"run_id,omitempty" example:"9b2f2c1e-4c1a-4d0f-9d7e-0f1b3c7a2e10" doc:"Current or last run"`
	StartedAt time.Time `json:"started_at,omitzero" doc:"When the current run started"`
	Frames    uint64    `json:"frames" example:"120" doc:"Frames delivered in the current or last run"`
	LastError string    `json:"last_error,omitempty" doc:"Error that ended the last run"`
}

type CaptureResponse struct {
	Body CaptureData
}

type CaptureMetricsResponse struct {
	Body metrics.CaptureMetrics
}

// Log models
type LogsInput struct {
	Tail   int    `query:"tail" minimum:"0" example:"100" doc:"Return only the newest N entries, 0 for all"`
	Module string `query:"module" example:"camera" doc:"Only entries from this module"`
}

type LogsData struct {
	Entries []logging.Entry `json:"entries" doc:"Log entries, oldest first"`
	Count   int             `json:"count" example:"100" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}
