package camera

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/svbcapture/internal/metrics"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// exposureScale converts exposure seconds to device microseconds.
const exposureScale = 1e6

// ControlChange describes a control value after a successful write.
type ControlChange struct {
	Camera  string           `json:"camera"`
	Control svb.ControlType  `json:"control"`
	Value   float64          `json:"value"`
	Raw     svb.ControlValue `json:"raw"`
}

// Controls reads and writes sensor controls in domain units. Exposure is in
// seconds; every other control uses device units unchanged.
//
// Calls are serialized against each other but not against frame reads, so
// a running acquisition loop keeps going while settings change.
type Controls struct {
	sdk    svb.SDK
	id     int32
	label  string
	caps   *CapabilityTable
	strict bool
	logger *slog.Logger
	notify func(ControlChange)

	mu           sync.Mutex
	exposureUS   atomic.Int64
	autoExposure atomic.Bool
}

// ControlsOption configures a Controls.
type ControlsOption func(*Controls)

// StrictRange makes Set reject values outside the descriptor range instead of
// leaving the clamp to the device.
func StrictRange(strict bool) ControlsOption {
	return func(c *Controls) { c.strict = strict }
}

// OnControlChange registers fn to receive every applied control value.
func OnControlChange(fn func(ControlChange)) ControlsOption {
	return func(c *Controls) { c.notify = fn }
}

// ControlsLogger sets the logger used for control writes.
func ControlsLogger(l *slog.Logger) ControlsOption {
	return func(c *Controls) { c.logger = l }
}

// ControlsLabel sets the camera label used in metrics and change events.
func ControlsLabel(label string) ControlsOption {
	return func(c *Controls) { c.label = label }
}

// NewControls returns an accessor for camera id. The exposure cache starts
// from the descriptor default; call RefreshExposure to read the device.
func NewControls(sdk svb.SDK, id int32, caps *CapabilityTable, opts ...ControlsOption) *Controls {
	c := &Controls{
		sdk:    sdk,
		id:     id,
		caps:   caps,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cc, ok := caps.Lookup(svb.Exposure); ok {
		c.exposureUS.Store(int64(cc.Default))
	}
	return c
}

// Capabilities returns the descriptor table.
func (c *Controls) Capabilities() *CapabilityTable {
	return c.caps
}

// Limits returns the range of kind in domain units. It does not touch the device.
func (c *Controls) Limits(kind svb.ControlType) (lo, hi float64, err error) {
	cc, ok := c.caps.Lookup(kind)
	if !ok {
		return 0, 0, &ControlError{Op: "limits", Control: kind, Err: ErrNotSupported}
	}
	return toDomain(kind, cc.Min), toDomain(kind, cc.Max), nil
}

// Set writes v with auto mode off and refreshes the cached exposure from the
// device read-back. The device may clamp v; Get reports the applied value.
func (c *Controls) Set(kind svb.ControlType, v float64) error {
	cc, ok := c.caps.Lookup(kind)
	if !ok {
		return &ControlError{Op: "set", Control: kind, Err: ErrNotSupported}
	}
	if !cc.Writable {
		return &ControlError{Op: "set", Control: kind, Err: ErrReadOnly}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ControlError{Op: "set", Control: kind, Err: fmt.Errorf("%w: %v", ErrOutOfRange, v)}
	}

	raw := toDevice(kind, v)
	if c.strict && !cc.Contains(raw) {
		lo, hi := toDomain(kind, cc.Min), toDomain(kind, cc.Max)
		return &ControlError{Op: "set", Control: kind,
			Err: fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, v, lo, hi)}
	}

	got, err := c.write(kind, raw, false)
	if err != nil {
		return err
	}
	if got.Value != raw {
		c.logger.Debug("Device clamped control", "control", kind.String(), "requested", raw, "applied", got.Value)
	}
	return nil
}

// SetAuto switches the device's automatic mode for kind, keeping the current value.
func (c *Controls) SetAuto(kind svb.ControlType, auto bool) error {
	cc, ok := c.caps.Lookup(kind)
	if !ok {
		return &ControlError{Op: "set auto", Control: kind, Err: ErrNotSupported}
	}
	if auto && !cc.AutoSupported {
		return &ControlError{Op: "set auto", Control: kind, Err: fmt.Errorf("auto mode %w", ErrNotSupported)}
	}
	if !cc.Writable {
		return &ControlError{Op: "set auto", Control: kind, Err: ErrReadOnly}
	}

	c.mu.Lock()
	cur, err := c.sdk.ControlValue(c.id, kind)
	c.mu.Unlock()
	if err != nil {
		return &ControlError{Op: "set auto", Control: kind, Err: err}
	}

	_, err = c.write(kind, cur.Value, auto)
	return err
}

// write performs the device write and read-back under the control lock.
func (c *Controls) write(kind svb.ControlType, raw int32, auto bool) (svb.ControlValue, error) {
	c.mu.Lock()
	if err := c.sdk.SetControlValue(c.id, kind, raw, auto); err != nil {
		c.mu.Unlock()
		return svb.ControlValue{}, &ControlError{Op: "set", Control: kind,
			Err: fmt.Errorf("%w: %w", ErrDeviceRejected, err)}
	}
	got, err := c.sdk.ControlValue(c.id, kind)
	if err == nil && kind == svb.Exposure {
		c.exposureUS.Store(int64(got.Value))
		c.autoExposure.Store(got.Auto)
	}
	c.mu.Unlock()

	if err != nil {
		return svb.ControlValue{}, &ControlError{Op: "read back", Control: kind, Err: err}
	}
	c.applied(kind, got)
	return got, nil
}

func (c *Controls) applied(kind svb.ControlType, v svb.ControlValue) {
	value := toDomain(kind, v.Value)
	metrics.SetControl(c.label, kind.String(), value)
	if kind == svb.Exposure {
		metrics.SetExposure(c.label, value)
	}
	c.logger.Info("Control applied", "control", kind.String(), "value", value, "auto", v.Auto)
	if c.notify != nil {
		c.notify(ControlChange{Camera: c.label, Control: kind, Value: value, Raw: v})
	}
}

// Get reads the current value of kind from the device in domain units.
func (c *Controls) Get(kind svb.ControlType) (float64, error) {
	v, err := c.Value(kind)
	if err != nil {
		return 0, err
	}
	return toDomain(kind, v.Value), nil
}

// Value reads the raw device value and auto flag of kind.
func (c *Controls) Value(kind svb.ControlType) (svb.ControlValue, error) {
	if _, ok := c.caps.Lookup(kind); !ok {
		return svb.ControlValue{}, &ControlError{Op: "get", Control: kind, Err: ErrNotSupported}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.sdk.ControlValue(c.id, kind)
	if err != nil {
		return svb.ControlValue{}, &ControlError{Op: "get", Control: kind, Err: err}
	}
	return v, nil
}

// ControlInfo is a control descriptor together with its current reading,
// all in domain units.
type ControlInfo struct {
	Caps    svb.ControlCaps
	Min     float64
	Max     float64
	Default float64
	Value   float64
	Auto    bool
}

// Describe reads kind from the device and reports it with its limits.
func (c *Controls) Describe(kind svb.ControlType) (ControlInfo, error) {
	cc, ok := c.caps.Lookup(kind)
	if !ok {
		return ControlInfo{}, &ControlError{Op: "describe", Control: kind, Err: ErrNotSupported}
	}
	v, err := c.Value(kind)
	if err != nil {
		return ControlInfo{}, err
	}
	return ControlInfo{
		Caps:    cc,
		Min:     toDomain(kind, cc.Min),
		Max:     toDomain(kind, cc.Max),
		Default: toDomain(kind, cc.Default),
		Value:   toDomain(kind, v.Value),
		Auto:    v.Auto,
	}, nil
}

// SetExposure is Set(svb.Exposure) with a duration.
func (c *Controls) SetExposure(d time.Duration) error {
	return c.Set(svb.Exposure, d.Seconds())
}

// Exposure reads the exposure currently applied by the device.
func (c *Controls) Exposure() (time.Duration, error) {
	v, err := c.Value(svb.Exposure)
	if err != nil {
		return 0, err
	}
	return time.Duration(v.Value) * time.Microsecond, nil
}

// SetGain is Set(svb.Gain).
func (c *Controls) SetGain(v float64) error {
	return c.Set(svb.Gain, v)
}

// Gain reads the current gain.
func (c *Controls) Gain() (float64, error) {
	return c.Get(svb.Gain)
}

// CachedExposure returns the exposure last read back from the device without
// a device call. The acquisition loop uses it to size frame read timeouts.
func (c *Controls) CachedExposure() time.Duration {
	return time.Duration(c.exposureUS.Load()) * time.Microsecond
}

// AutoExposure reports whether the device is adjusting exposure on its own.
func (c *Controls) AutoExposure() bool {
	return c.autoExposure.Load()
}

// RefreshExposure re-reads exposure and its auto flag into the cache.
func (c *Controls) RefreshExposure() error {
	if _, ok := c.caps.Lookup(svb.Exposure); !ok {
		return nil
	}
	v, err := c.Value(svb.Exposure)
	if err != nil {
		return err
	}
	c.exposureUS.Store(int64(v.Value))
	c.autoExposure.Store(v.Auto)
	metrics.SetExposure(c.label, toDomain(svb.Exposure, v.Value))
	return nil
}

func scale(kind svb.ControlType) float64 {
	if kind == svb.Exposure {
		return exposureScale
	}
	return 1
}

// toDevice converts a domain value to device units, rounding to nearest and
// saturating at the int32 bounds.
func toDevice(kind svb.ControlType, v float64) int32 {
	x := math.Round(v * scale(kind))
	switch {
	case x >= math.MaxInt32:
		return math.MaxInt32
	case x <= math.MinInt32:
		return math.MinInt32
	}
	return int32(x)
}

func toDomain(kind svb.ControlType, raw int32) float64 {
	return float64(raw) / scale(kind)
}
