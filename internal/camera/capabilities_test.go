package camera

import (
	"errors"
	"testing"

	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

func TestBuildCapabilities(t *testing.T) {
	sdk := sim.New(sim.DefaultCamera())
	if err := sdk.Open(0); err != nil {
		t.Fatal(err)
	}

	table, err := BuildCapabilities(sdk, 0)
	if err != nil {
		t.Fatalf("BuildCapabilities: %v", err)
	}
	if table.Len() != len(sim.DefaultControls()) {
		t.Errorf("Len = %d, want %d", table.Len(), len(sim.DefaultControls()))
	}

	gain, ok := table.Lookup(svb.Gain)
	if !ok {
		t.Fatal("gain missing")
	}
	if gain.Min != 0 || gain.Max != 100 || !gain.Writable {
		t.Errorf("gain descriptor = %+v", gain)
	}
	if _, ok := table.Lookup(svb.WBRed); ok {
		t.Error("mono camera reports wb_red")
	}

	all := table.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Type >= all[i].Type {
			t.Errorf("All not ordered at %d: %v then %v", i, all[i-1].Type, all[i].Type)
		}
	}
}

func TestCapabilityTableDuplicateLastWins(t *testing.T) {
	table := NewCapabilityTable(
		svb.ControlCaps{Type: svb.Gain, Max: 50},
		svb.ControlCaps{Type: svb.Exposure, Max: 1000},
		svb.ControlCaps{Type: svb.Gain, Max: 100},
	)
	if table.Len() != 2 {
		t.Errorf("Len = %d, want 2", table.Len())
	}
	if gain, _ := table.Lookup(svb.Gain); gain.Max != 100 {
		t.Errorf("gain max = %d, want the later descriptor's 100", gain.Max)
	}
}

func TestBuildCapabilitiesEnumerationFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*sim.SDK)
		want  error
	}{
		{
			name:  "count fails",
			setup: func(s *sim.SDK) { s.FailMethod("NumControls", svb.ErrCameraRemoved) },
			want:  svb.ErrCameraRemoved,
		},
		{
			name:  "descriptor fails",
			setup: func(s *sim.SDK) { s.FailControlCaps(3, svb.ErrGeneral) },
			want:  svb.ErrGeneral,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sdk := sim.New(sim.DefaultCamera())
			_ = sdk.Open(0)
			tt.setup(sdk)

			table, err := BuildCapabilities(sdk, 0)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if table != nil {
				t.Error("expected no table on failure")
			}
		})
	}
}
