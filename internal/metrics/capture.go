// Package metrics provides Prometheus metrics for camera acquisition.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svbcapture",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read from the sensor",
	}, []string{"camera"})

	frameBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svbcapture",
		Subsystem: "capture",
		Name:      "bytes_total",
		Help:      "Frame payload bytes read from the sensor",
	}, []string{"camera"})

	frameInterval = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "svbcapture",
		Subsystem: "capture",
		Name:      "frame_interval_seconds",
		Help:      "Time between consecutive frame timestamps",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"camera"})

	readTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svbcapture",
		Subsystem: "capture",
		Name:      "timeouts_total",
		Help:      "Frame reads that ended in a device timeout",
	}, []string{"camera"})

	capturing = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "svbcapture",
		Subsystem: "capture",
		Name:      "active",
		Help:      "1 while an acquisition run is active",
	}, []string{"camera"})

	droppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "svbcapture",
		Subsystem: "capture",
		Name:      "dropped_frames",
		Help:      "Dropped frame count reported by the device",
	}, []string{"camera"})

	exposureSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "svbcapture",
		Subsystem: "controls",
		Name:      "exposure_seconds",
		Help:      "Exposure time currently in effect",
	}, []string{"camera"})

	controlValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "svbcapture",
		Subsystem: "controls",
		Name:      "value",
		Help:      "Last read-back value of a control in domain units",
	}, []string{"camera", "control"})

	dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svbcapture",
		Subsystem: "dispatch",
		Name:      "failures_total",
		Help:      "Consumer errors and panics during frame delivery",
	}, []string{"camera", "consumer"})

	cacheMu sync.RWMutex
	cache   = make(map[string]*CaptureMetrics)
)

// CaptureMetrics is a point-in-time view of one camera's counters, kept for
// the HTTP API.
type CaptureMetrics struct {
	Frames           uint64            `json:"frames"`
	Bytes            uint64            `json:"bytes"`
	Timeouts         uint64            `json:"timeouts"`
	DroppedFrames    int               `json:"dropped_frames"`
	Active           bool              `json:"active"`
	ExposureSeconds  float64           `json:"exposure_seconds"`
	LastFrame        time.Time         `json:"last_frame,omitzero"`
	LastInterval     time.Duration     `json:"last_interval_ns"`
	DispatchFailures map[string]uint64 `json:"dispatch_failures,omitempty"`
}

// RecordFrame counts one frame of size bytes. interval is the gap to the
// previous frame's timestamp, zero for the first frame of a run.
func RecordFrame(camera string, size int, ts time.Time, interval time.Duration) {
	framesCaptured.WithLabelValues(camera).Inc()
	frameBytes.WithLabelValues(camera).Add(float64(size))
	if interval > 0 {
		frameInterval.WithLabelValues(camera).Observe(interval.Seconds())
	}
	update(camera, func(m *CaptureMetrics) {
		m.Frames++
		m.Bytes += uint64(size)
		m.LastFrame = ts
		if interval > 0 {
			m.LastInterval = interval
		}
	})
}

// RecordTimeout counts a frame read that timed out.
func RecordTimeout(camera string) {
	readTimeouts.WithLabelValues(camera).Inc()
	update(camera, func(m *CaptureMetrics) { m.Timeouts++ })
}

// RecordDispatchFailure counts a consumer error or panic.
func RecordDispatchFailure(camera, consumer string) {
	dispatchFailures.WithLabelValues(camera, consumer).Inc()
	update(camera, func(m *CaptureMetrics) {
		if m.DispatchFailures == nil {
			m.DispatchFailures = make(map[string]uint64)
		}
		m.DispatchFailures[consumer]++
	})
}

// SetActive records whether a run is in progress.
func SetActive(camera string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	capturing.WithLabelValues(camera).Set(v)
	update(camera, func(m *CaptureMetrics) { m.Active = active })
}

// SetDroppedFrames records the device's dropped frame counter.
func SetDroppedFrames(camera string, n int) {
	droppedFrames.WithLabelValues(camera).Set(float64(n))
	update(camera, func(m *CaptureMetrics) { m.DroppedFrames = n })
}

// SetExposure records the exposure in effect, in seconds.
func SetExposure(camera string, seconds float64) {
	exposureSeconds.WithLabelValues(camera).Set(seconds)
	update(camera, func(m *CaptureMetrics) { m.ExposureSeconds = seconds })
}

// SetControl records a control's read-back value in domain units.
func SetControl(camera, control string, value float64) {
	controlValue.WithLabelValues(camera, control).Set(value)
}

// Get returns a copy of the cached metrics for camera, or nil.
func Get(camera string) *CaptureMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	m, ok := cache[camera]
	if !ok {
		return nil
	}
	dup := *m
	if m.DispatchFailures != nil {
		dup.DispatchFailures = make(map[string]uint64, len(m.DispatchFailures))
		for k, v := range m.DispatchFailures {
			dup.DispatchFailures[k] = v
		}
	}
	return &dup
}

// Delete drops every series labelled with camera.
func Delete(camera string) {
	framesCaptured.DeleteLabelValues(camera)
	frameBytes.DeleteLabelValues(camera)
	frameInterval.DeleteLabelValues(camera)
	readTimeouts.DeleteLabelValues(camera)
	capturing.DeleteLabelValues(camera)
	droppedFrames.DeleteLabelValues(camera)
	exposureSeconds.DeleteLabelValues(camera)
	controlValue.DeletePartialMatch(prometheus.Labels{"camera": camera})
	dispatchFailures.DeletePartialMatch(prometheus.Labels{"camera": camera})

	cacheMu.Lock()
	delete(cache, camera)
	cacheMu.Unlock()
}

func update(camera string, fn func(*CaptureMetrics)) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	m, ok := cache[camera]
	if !ok {
		m = &CaptureMetrics{}
		cache[camera] = m
	}
	fn(m)
}
