package camera

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

func newTestControls(t *testing.T, opts ...ControlsOption) (*Controls, *sim.SDK) {
	t.Helper()
	sdk := sim.New(sim.DefaultCamera())
	if err := sdk.Open(0); err != nil {
		t.Fatal(err)
	}
	table, err := BuildCapabilities(sdk, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := NewControls(sdk, 0, table, append([]ControlsOption{ControlsLogger(testLogger())}, opts...)...)
	if err := c.RefreshExposure(); err != nil {
		t.Fatal(err)
	}
	sdk.ResetCalls()
	return c, sdk
}

func TestSetGetWithinRange(t *testing.T) {
	tests := []struct {
		kind  svb.ControlType
		value float64
	}{
		{svb.Gain, 0},
		{svb.Gain, 55},
		{svb.Gain, 100},
		{svb.Exposure, 0.1},
		{svb.Exposure, 1.5},
		{svb.Gamma, 250},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c, _ := newTestControls(t)
			if err := c.Set(tt.kind, tt.value); err != nil {
				t.Fatalf("Set(%v): %v", tt.value, err)
			}
			got, err := c.Get(tt.kind)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != tt.value {
				t.Errorf("Get = %v, want %v", got, tt.value)
			}
		})
	}
}

func TestSetGainClampedByDevice(t *testing.T) {
	c, _ := newTestControls(t)

	if err := c.SetGain(150); err != nil {
		t.Fatalf("SetGain(150): %v", err)
	}
	got, err := c.Gain()
	if err != nil {
		t.Fatalf("Gain: %v", err)
	}
	if got != 100 {
		t.Errorf("Gain = %v, want device-clamped 100", got)
	}
}

func TestLimits(t *testing.T) {
	c, sdk := newTestControls(t)

	lo, hi, err := c.Limits(svb.Exposure)
	if err != nil {
		t.Fatalf("Limits(exposure): %v", err)
	}
	if lo != 29e-6 || hi != 2000 {
		t.Errorf("exposure limits = [%v, %v], want [29e-6, 2000]", lo, hi)
	}

	_, _, err = c.Limits(svb.WBRed)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("Limits(wb_red) = %v, want ErrNotSupported", err)
	}
	if n := sdk.TotalCalls(); n != 0 {
		t.Errorf("Limits made %d device calls, want 0", n)
	}
}

func TestSetRejectedLocally(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
		kind   svb.ControlType
		value  float64
		want   error
	}{
		{"unsupported", false, svb.WBRed, 10, ErrNotSupported},
		{"read-only", false, svb.CurrentTemperature, 10, ErrReadOnly},
		{"nan", false, svb.Gain, math.NaN(), ErrOutOfRange},
		{"strict above max", true, svb.Gain, 150, ErrOutOfRange},
		{"strict below min", true, svb.Exposure, 1e-6, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sdk := newTestControls(t, StrictRange(tt.strict))
			err := c.Set(tt.kind, tt.value)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Set = %v, want %v", err, tt.want)
			}
			var ce *ControlError
			if !errors.As(err, &ce) || ce.Control != tt.kind {
				t.Errorf("expected ControlError for %v, got %v", tt.kind, err)
			}
			if n := sdk.Calls("SetControlValue"); n != 0 {
				t.Errorf("device written %d times", n)
			}
		})
	}
}

func TestSetDeviceRejected(t *testing.T) {
	c, sdk := newTestControls(t)
	sdk.FailSetControl(svb.Gain, svb.ErrGeneral)

	err := c.Set(svb.Gain, 10)
	if !errors.Is(err, ErrDeviceRejected) {
		t.Errorf("err = %v, want ErrDeviceRejected", err)
	}
	if !errors.Is(err, svb.ErrGeneral) {
		t.Errorf("err = %v, want device code preserved", err)
	}
}

func TestSetExposureRefreshesCache(t *testing.T) {
	var changes []ControlChange
	c, _ := newTestControls(t, OnControlChange(func(cc ControlChange) { changes = append(changes, cc) }))

	if got := c.CachedExposure(); got != 30*time.Millisecond {
		t.Fatalf("initial cached exposure = %v, want 30ms", got)
	}
	if err := c.SetExposure(100 * time.Millisecond); err != nil {
		t.Fatalf("SetExposure: %v", err)
	}
	if got := c.CachedExposure(); got != 100*time.Millisecond {
		t.Errorf("cached exposure = %v, want 100ms", got)
	}

	// Beyond the descriptor max the cache follows the device read-back.
	if err := c.Set(svb.Exposure, 5000); err != nil {
		t.Fatalf("Set(5000s): %v", err)
	}
	if got := c.CachedExposure(); got != 2000*time.Second {
		t.Errorf("cached exposure = %v, want 2000s", got)
	}

	if len(changes) != 2 || changes[0].Value != 0.1 || changes[0].Control != svb.Exposure {
		t.Errorf("changes = %+v", changes)
	}
}

func TestSetAuto(t *testing.T) {
	c, _ := newTestControls(t)

	if err := c.SetAuto(svb.Exposure, true); err != nil {
		t.Fatalf("SetAuto(exposure): %v", err)
	}
	if !c.AutoExposure() {
		t.Error("AutoExposure = false after enabling")
	}
	v, err := c.Value(svb.Exposure)
	if err != nil || !v.Auto {
		t.Errorf("Value = %+v, %v", v, err)
	}

	// A manual write turns auto off again.
	if err := c.SetExposure(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if c.AutoExposure() {
		t.Error("AutoExposure still set after manual write")
	}

	if err := c.SetAuto(svb.Gamma, true); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SetAuto(gamma) = %v, want ErrNotSupported", err)
	}
}

func TestToDevice(t *testing.T) {
	tests := []struct {
		kind svb.ControlType
		in   float64
		want int32
	}{
		{svb.Exposure, 0.1, 100000},
		{svb.Exposure, 0.0000004, 0},
		{svb.Exposure, 0.0000006, 1},
		{svb.Exposure, 1e9, math.MaxInt32},
		{svb.Gain, 42.4, 42},
		{svb.Gain, 42.5, 43},
		{svb.BlackLevel, -1e12, math.MinInt32},
	}
	for _, tt := range tests {
		if got := toDevice(tt.kind, tt.in); got != tt.want {
			t.Errorf("toDevice(%v, %v) = %d, want %d", tt.kind, tt.in, got, tt.want)
		}
	}
	if got := toDomain(svb.Exposure, 700000); got != 0.7 {
		t.Errorf("toDomain(exposure, 700000) = %v", got)
	}
}

func TestDescribe(t *testing.T) {
	c, _ := newTestControls(t)

	info, err := c.Describe(svb.Exposure)
	if err != nil {
		t.Fatal(err)
	}
	if info.Min != 29e-6 || info.Max != 2000 || info.Default != 0.03 || info.Value != 0.03 {
		t.Errorf("Describe(exposure) = %+v", info)
	}
	if !info.Caps.Writable || !info.Caps.AutoSupported {
		t.Errorf("caps = %+v", info.Caps)
	}

	if _, err := c.Describe(svb.CoolerEnable); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Describe(unsupported) = %v", err)
	}
}
