package camera

import (
	"fmt"
	"slices"

	"github.com/smazurov/svbcapture/pkg/svb"
)

// CapabilityTable maps each control the device exposes to its descriptor.
// It is built once per connection and never modified afterwards, so it is
// safe for concurrent reads.
type CapabilityTable struct {
	caps map[svb.ControlType]svb.ControlCaps
}

// NewCapabilityTable builds a table from descriptors. A later descriptor for
// the same control replaces an earlier one.
func NewCapabilityTable(caps ...svb.ControlCaps) *CapabilityTable {
	t := &CapabilityTable{caps: make(map[svb.ControlType]svb.ControlCaps, len(caps))}
	for _, cc := range caps {
		t.caps[cc.Type] = cc
	}
	return t
}

// BuildCapabilities enumerates the control descriptors of an open camera.
// Any enumeration failure aborts the build.
func BuildCapabilities(sdk svb.SDK, id int32) (*CapabilityTable, error) {
	n, err := sdk.NumControls(id)
	if err != nil {
		return nil, fmt.Errorf("count controls: %w", err)
	}

	caps := make([]svb.ControlCaps, 0, n)
	for i := range n {
		cc, err := sdk.ControlCaps(id, i)
		if err != nil {
			return nil, fmt.Errorf("control %d of %d: %w", i, n, err)
		}
		caps = append(caps, cc)
	}
	return NewCapabilityTable(caps...), nil
}

// Lookup returns the descriptor for kind.
func (t *CapabilityTable) Lookup(kind svb.ControlType) (svb.ControlCaps, bool) {
	cc, ok := t.caps[kind]
	return cc, ok
}

// All returns every descriptor ordered by control type.
func (t *CapabilityTable) All() []svb.ControlCaps {
	out := make([]svb.ControlCaps, 0, len(t.caps))
	for _, cc := range t.caps {
		out = append(out, cc)
	}
	slices.SortFunc(out, func(a, b svb.ControlCaps) int {
		return int(a.Type) - int(b.Type)
	})
	return out
}

// Len returns the number of distinct controls.
func (t *CapabilityTable) Len() int {
	return len(t.caps)
}
