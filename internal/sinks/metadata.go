// Package sinks holds frame consumers: raw recording, TIFF snapshots, MQTT
// telemetry and the in-process event bridge. Every sink implements
// camera.Consumer and must not keep frame data past OnFrame.
package sinks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/smazurov/svbcapture/internal/camera"
)

// Metadata describes a frame without its pixels.
type Metadata struct {
	Camera     string    `json:"camera"`
	RunID      string    `json:"run_id"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	ExposureUS int64     `json:"exposure_us"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	BitDepth   int       `json:"bit_depth"`
	ImageType  string    `json:"image_type"`
	Bytes      int       `json:"bytes"`
	Checksum   string    `json:"xxh64"`
}

// NewMetadata summarises f. The checksum is the hex xxh64 of the payload.
func NewMetadata(f camera.Frame) Metadata {
	return Metadata{
		Camera:     f.Camera,
		RunID:      f.RunID.String(),
		Seq:        f.Seq,
		Timestamp:  f.Timestamp,
		ExposureUS: f.Exposure.Microseconds(),
		Width:      f.Width,
		Height:     f.Height,
		BitDepth:   f.BitDepth,
		ImageType:  f.ImageType.String(),
		Bytes:      len(f.Data),
		Checksum:   Checksum(f.Data),
	}
}

// Checksum returns the xxh64 of data as 16 hex digits.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
