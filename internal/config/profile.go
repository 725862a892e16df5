package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/svbcapture/pkg/svb"
)

// ControlProfile is a saved set of control values in domain units, keyed by
// control name (`gain`, `exposure`, ...). Exposure is in seconds.
//
//	[controls]
//	gain = 120
//	exposure = 0.05
//
//	[auto]
//	exposure = true
type ControlProfile struct {
	Controls map[string]float64 `toml:"controls" json:"controls"`
	Auto     map[string]bool    `toml:"auto,omitempty" json:"auto,omitempty"`
}

// ControlSetter is the part of a camera's control accessor a profile needs.
type ControlSetter interface {
	Set(kind svb.ControlType, value float64) error
	SetAuto(kind svb.ControlType, auto bool) error
}

// LoadControlProfile reads and validates a profile. Unknown control names
// are an error.
func LoadControlProfile(path string) (ControlProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ControlProfile{}, err
	}
	var p ControlProfile
	if err := toml.Unmarshal(data, &p); err != nil {
		return ControlProfile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return ControlProfile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// SaveControlProfile writes p to path, creating parent directories. The file
// is replaced atomically.
func SaveControlProfile(path string, p ControlProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// Validate checks that every key names a known control.
func (p ControlProfile) Validate() error {
	var errs []error
	for name := range p.Controls {
		if _, err := svb.ParseControlType(name); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range p.Auto {
		if _, err := svb.ParseControlType(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply writes the profile through target. Values are written first in
// control order, then auto flags, so that a control listed in both ends up
// in auto mode. Every entry is attempted; failures are joined.
func (p ControlProfile) Apply(target ControlSetter) error {
	var errs []error
	for _, e := range sortedEntries(p.Controls) {
		if err := target.Set(e.kind, e.value); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range sortedEntries(p.Auto) {
		if err := target.SetAuto(e.kind, e.value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type entry[V any] struct {
	kind  svb.ControlType
	value V
}

func sortedEntries[V any](m map[string]V) []entry[V] {
	out := make([]entry[V], 0, len(m))
	for name, v := range m {
		if kind, err := svb.ParseControlType(name); err == nil {
			out = append(out, entry[V]{kind, v})
		}
	}
	slices.SortFunc(out, func(a, b entry[V]) int { return int(a.kind) - int(b.kind) })
	return out
}
