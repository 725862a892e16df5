package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

// Backend names reported by OpenSDK.
const (
	BackendSDK = "sdk"
	BackendSim = "sim"
)

// OpenSDK returns the simulated backend when simulate is set, otherwise the
// vendor binding linked into this binary.
func OpenSDK(simulate bool) (svb.SDK, string, error) {
	if simulate {
		return sim.New(sim.DefaultCamera()), BackendSim, nil
	}
	sdk, err := svb.Default()
	if err != nil {
		return nil, "", fmt.Errorf("%w; use --simulate to run without hardware", err)
	}
	return sdk, BackendSDK, nil
}

// OpenCamera opens the camera with the given serial number, or the one at
// index when serial is empty.
func OpenCamera(sdk svb.SDK, index int, serial string, opts ...camera.Option) (*camera.Camera, error) {
	if serial != "" {
		return camera.OpenSerial(sdk, serial, opts...)
	}
	if n := sdk.NumCameras(); n == 0 {
		return nil, errors.New("no cameras connected")
	} else if index < 0 || index >= n {
		return nil, fmt.Errorf("camera index %d out of range, %d connected", index, n)
	}
	return camera.Open(sdk, index, opts...)
}

// deviceFlags selects a camera for subcommands.
type deviceFlags struct {
	simulate bool
	index    int
	serial   string
}

func (d *deviceFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&d.simulate, "simulate", false, "Use the simulated camera instead of the vendor SDK")
	fs.IntVar(&d.index, "index", 0, "Camera index")
	fs.StringVar(&d.serial, "serial", "", "Camera serial number, takes precedence over --index")
}

func (d *deviceFlags) open(opts ...camera.Option) (*camera.Camera, error) {
	sdk, _, err := OpenSDK(d.simulate)
	if err != nil {
		return nil, err
	}
	return OpenCamera(sdk, d.index, d.serial, opts...)
}

// logFlags configures the minimal logging used by subcommands.
type logFlags struct {
	level string
	json  bool
}

func (l *logFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&l.level, "log-level", "warn", "Logging level (debug, info, warn, error)")
	fs.BoolVar(&l.json, "log-json", false, "Use JSON log format")
}

func (l *logFlags) init() {
	cfg := logging.Config{Level: l.level, Format: "text"}
	if l.json {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
