package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/smazurov/svbcapture/pkg/svb"
)

type setCall struct {
	kind  svb.ControlType
	value float64
	auto  bool
	isSet bool
}

type fakeSetter struct {
	calls []setCall
	fail  map[svb.ControlType]error
}

func (f *fakeSetter) Set(kind svb.ControlType, value float64) error {
	f.calls = append(f.calls, setCall{kind: kind, value: value, isSet: true})
	return f.fail[kind]
}

func (f *fakeSetter) SetAuto(kind svb.ControlType, auto bool) error {
	f.calls = append(f.calls, setCall{kind: kind, auto: auto})
	return f.fail[kind]
}

func TestLoadControlProfile(t *testing.T) {
	path := writeFile(t, "profile.toml", `
[controls]
gain = 120
exposure = 0.05
black_level = 12

[auto]
exposure = true
`)
	p, err := LoadControlProfile(path)
	if err != nil {
		t.Fatalf("LoadControlProfile: %v", err)
	}
	want := ControlProfile{
		Controls: map[string]float64{"gain": 120, "exposure": 0.05, "black_level": 12},
		Auto:     map[string]bool{"exposure": true},
	}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("got %+v, want %+v", p, want)
	}
}

func TestLoadControlProfileUnknownControl(t *testing.T) {
	path := writeFile(t, "profile.toml", "[controls]\nshutter_angle = 180\n")
	if _, err := LoadControlProfile(path); err == nil {
		t.Error("expected error for unknown control")
	}
	if _, err := LoadControlProfile(filepath.Join(t.TempDir(), "none.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file = %v", err)
	}
}

func TestSaveControlProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "night.toml")
	p := ControlProfile{
		Controls: map[string]float64{"gain": 80, "exposure": 2.5},
		Auto:     map[string]bool{"gain": false},
	}
	if err := SaveControlProfile(path, p); err != nil {
		t.Fatalf("SaveControlProfile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
	got, err := LoadControlProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("got %+v, want %+v", got, p)
	}

	bad := ControlProfile{Controls: map[string]float64{"nope": 1}}
	if err := SaveControlProfile(path, bad); err == nil {
		t.Error("invalid profile saved")
	}
}

func TestApplyOrder(t *testing.T) {
	p := ControlProfile{
		Controls: map[string]float64{"Exposure": 0.1, "gain": 30, "flip": 1},
		Auto:     map[string]bool{"exposure": true},
	}
	var f fakeSetter
	if err := p.Apply(&f); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []setCall{
		{kind: svb.Gain, value: 30, isSet: true},
		{kind: svb.Exposure, value: 0.1, isSet: true},
		{kind: svb.Flip, value: 1, isSet: true},
		{kind: svb.Exposure, auto: true},
	}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("calls = %+v\nwant %+v", f.calls, want)
	}
}

func TestApplyJoinsFailures(t *testing.T) {
	boom := errors.New("rejected")
	p := ControlProfile{Controls: map[string]float64{"gain": 30, "gamma": 1, "contrast": 5}}
	f := fakeSetter{fail: map[svb.ControlType]error{svb.Gain: boom}}

	err := p.Apply(&f)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if len(f.calls) != 3 {
		t.Errorf("attempted %d writes, want all 3", len(f.calls))
	}
}
