package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/svbcapture/cmd"
	"github.com/smazurov/svbcapture/internal/api"
	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/config"
	"github.com/smazurov/svbcapture/internal/devices"
	"github.com/smazurov/svbcapture/internal/events"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/internal/metrics"
	"github.com/smazurov/svbcapture/internal/metrics/exporters"
	svbnats "github.com/smazurov/svbcapture/internal/nats"
	"github.com/smazurov/svbcapture/internal/pipeline"
	"github.com/smazurov/svbcapture/internal/systemd"
	"github.com/smazurov/svbcapture/internal/version"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// reopenDelays are the waits before each attempt to open a camera after a
// USB attach event. The SDK needs a moment to enumerate a new device.
var reopenDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}

// app owns the long-running service: the camera, its sinks, the API server
// and the watchers around them.
type app struct {
	opts     *Options
	logger   *slog.Logger
	bus      *events.Bus
	sdk      svb.SDK
	pipe     *pipeline.Pipeline
	server   *api.Server
	notifier *systemd.Notifier
	stopLogs func()

	natsServer *svbnats.Server
	control    *svbnats.ControlBridge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cam     *camera.Camera
	profile *config.Watcher[config.ControlProfile]
	closed  bool
}

func newApp(opts *Options, notifier *systemd.Notifier) (a *app, err error) {
	ctx, cancel := context.WithCancel(context.Background())
	a = &app{
		opts:     opts,
		logger:   logging.GetLogger("main"),
		bus:      events.New(),
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}
	partial := a
	defer func() {
		if err != nil {
			cancel()
			if partial.natsServer != nil {
				partial.natsServer.Stop()
			}
			partial.stopLogs()
		}
	}()
	a.stopLogs = events.ForwardLogs(a.bus)

	sdk, backend, err := cmd.OpenSDK(opts.CameraSimulate)
	if err != nil {
		return nil, err
	}
	a.sdk = sdk

	natsURL := opts.NatsUrl
	if opts.NatsEmbedded {
		a.natsServer = svbnats.NewServer(svbnats.ServerOptions{
			Port:   opts.NatsPort,
			Open:   opts.NatsOpen,
			Logger: logging.GetLogger("nats"),
		})
		if err := a.natsServer.Start(); err != nil {
			a.natsServer = nil
			return nil, fmt.Errorf("embedded nats: %w", err)
		}
		if natsURL == "" {
			natsURL = a.natsServer.ClientURL()
		}
	}

	a.pipe, err = pipeline.New(ctx, pipeline.Config{
		RawPath:      opts.SinksRawPath,
		RawZstd:      opts.SinksRawZstd,
		RawIndex:     opts.SinksRawIndex,
		TIFFDir:      opts.SinksTiffDir,
		TIFFEvery:    opts.SinksTiffEvery,
		MQTTBroker:   opts.MqttBroker,
		MQTTPrefix:   opts.MqttPrefix,
		MQTTClientID: opts.MqttClientId,
		MQTTEvery:    opts.MqttEvery,
		NATSURL:      natsURL,
		NATSEvery:    opts.NatsEvery,
		EventEvery:   opts.EventsFrameEvery,
	}, a.bus, logging.GetLogger("sinks"))
	if err != nil {
		return nil, err
	}

	apiOpts := &api.Options{
		AuthUsername: opts.AuthUsername,
		AuthPassword: opts.AuthPassword,
		CORSOrigin:   opts.CorsOrigin,
		EventBus:     a.bus,
		Version:      version.Get().WithSDK(backend, sdk.Version()),
		RunContext:   ctx,
	}
	if opts.PrometheusEnabled {
		apiOpts.PrometheusHandler = exporters.HTTPHandler()
	}
	a.server = api.NewServer(apiOpts)

	if conn := a.pipe.NATSConn(); conn != nil && opts.NatsControl {
		a.control = svbnats.NewControlBridge(conn, ctx, a.controller, logging.GetLogger("nats"))
		if err := a.control.Start(); err != nil {
			a.logger.Warn("NATS control disabled", "error", err)
			a.control = nil
		}
	}

	// A missing camera is not fatal; the API answers 503 until one is attached.
	if err := a.openCamera(); err != nil {
		a.logger.Warn("No camera opened", "error", err)
	}
	return a, nil
}

func (a *app) cameraOptions() []camera.Option {
	opts := []camera.Option{
		camera.WithLogger(logging.GetLogger("camera")),
		camera.WithBufferCount(a.opts.CameraBuffers),
		camera.WithStrictRange(a.opts.CameraStrictRange),
	}
	if a.opts.CameraImageType != "" {
		if t, err := svb.ParseImageType(a.opts.CameraImageType); err != nil {
			a.logger.Warn("Ignoring image type", "error", err)
		} else {
			opts = append(opts, camera.WithImageType(t))
		}
	}
	return append(opts, a.pipe.CameraOptions(a.reportState)...)
}

// openCamera opens the configured camera, applies the control profile and
// hands the camera to the API. It is a no-op when a camera is open.
func (a *app) openCamera() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("shutting down")
	}
	if a.cam != nil {
		return nil
	}

	cam, err := cmd.OpenCamera(a.sdk, a.opts.CameraIndex, a.opts.CameraSerial, a.cameraOptions()...)
	if err != nil {
		return err
	}
	a.pipe.Attach(cam.Dispatcher())
	a.cam = cam

	if a.opts.CameraProfile != "" {
		if p, err := config.LoadControlProfile(a.opts.CameraProfile); err != nil {
			a.logger.Warn("Failed to load control profile", "path", a.opts.CameraProfile, "error", err)
		} else {
			a.applyProfileLocked(p)
		}
	}

	a.server.SetCamera(cam)
	a.notifier.Status("camera %s idle", cam.Label())
	a.logger.Info("Camera ready", "camera", cam.Info().String())

	if a.opts.CaptureAutostart {
		if err := cam.Start(a.ctx); err != nil {
			a.logger.Error("Failed to start capture", "error", err)
		}
	}
	return nil
}

// closeCamera detaches and closes the open camera, if any.
func (a *app) closeCamera() {
	a.mu.Lock()
	cam := a.cam
	a.cam = nil
	a.mu.Unlock()
	if cam == nil {
		return
	}

	a.server.SetCamera(nil)
	a.pipe.Detach()
	if err := cam.Close(); err != nil {
		a.logger.Warn("Error closing camera", "camera", cam.Label(), "error", err)
	}
	metrics.Delete(cam.Label())
	a.notifier.Status("no camera")
}

func (a *app) camera() *camera.Camera {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cam
}

// controller returns the open camera for the NATS control bridge.
func (a *app) controller() svbnats.Controller {
	if cam := a.camera(); cam != nil {
		return cam
	}
	return nil
}

func (a *app) applyProfile(p config.ControlProfile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyProfileLocked(p)
}

func (a *app) applyProfileLocked(p config.ControlProfile) {
	if a.cam == nil {
		return
	}
	if err := p.Apply(a.cam.Controls()); err != nil {
		a.logger.Warn("Control profile partially applied", "error", err)
		return
	}
	a.logger.Info("Control profile applied", "controls", len(p.Controls), "auto", len(p.Auto))
}

func (a *app) reportState(sc camera.StateChange) {
	switch {
	case sc.Err != nil:
		a.notifier.Status("camera %s %s after %d frames: %v", sc.Camera, sc.State, sc.Frames, sc.Err)
	default:
		a.notifier.Status("camera %s %s", sc.Camera, sc.State)
	}
}

// onDeviceRemove closes the camera when its USB device goes away. Events
// without a serial are matched by asking the open camera whether it is
// still reachable.
func (a *app) onDeviceRemove(ev devices.Event) {
	cam := a.camera()
	if cam == nil {
		return
	}
	if serial := ev.Env["SERIAL"]; serial != "" {
		if !strings.EqualFold(serial, cam.Info().SerialNumber) {
			return
		}
	} else if reachable(cam) {
		a.logger.Debug("Removed device is not the open camera", "devpath", ev.DevPath)
		return
	}
	a.logger.Warn("Camera removed", "camera", cam.Label(), "devpath", ev.DevPath)
	a.closeCamera()
}

func reachable(cam *camera.Camera) bool {
	_, err := cam.DroppedFrames()
	return !errors.Is(err, svb.ErrCameraRemoved) && !errors.Is(err, svb.ErrCameraClosed)
}

// onDeviceAdd opens the camera when none is open, retrying while the SDK
// enumerates the new device.
func (a *app) onDeviceAdd(devices.Event) {
	if a.camera() != nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		var err error
		for _, d := range reopenDelays {
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(d):
			}
			if err = a.openCamera(); err == nil {
				return
			}
		}
		a.logger.Warn("Camera attached but could not be opened", "error", err)
	}()
}

// healthy reports whether the service can still reach its camera. Having no
// camera is healthy; a camera that stopped answering is not.
func (a *app) healthy() bool {
	cam := a.camera()
	return cam == nil || reachable(cam)
}

// startBackground starts the hotplug watcher, the profile watcher and the
// systemd watchdog.
func (a *app) startBackground() {
	if !a.opts.CameraSimulate {
		if mon, err := devices.NewMonitor(); err != nil {
			a.logger.Warn("USB hotplug monitoring unavailable", "error", err)
		} else {
			w := devices.NewWatcher(mon, a.bus, logging.GetLogger("devices"))
			w.OnRemove(a.onDeviceRemove)
			w.OnAdd(a.onDeviceAdd)
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				defer mon.Close()
				if err := w.Run(a.ctx); err != nil {
					a.logger.Warn("Hotplug watcher stopped", "error", err)
				}
			}()
		}
	}

	if a.opts.CameraProfile != "" && a.opts.CameraProfileWatch {
		w := config.NewWatcher(a.opts.CameraProfile, config.LoadControlProfile, logging.GetLogger("config"),
			config.WithDebounce[config.ControlProfile](500*time.Millisecond))
		w.OnReload(a.applyProfile)
		if err := w.Start(); err != nil {
			a.logger.Warn("Failed to watch control profile, live reload disabled", "error", err)
		} else {
			a.mu.Lock()
			a.profile = w
			a.mu.Unlock()
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.notifier.Watchdog(a.ctx, a.healthy); err != nil {
			a.logger.Warn("Watchdog disabled", "error", err)
		}
	}()
}

// run serves the API until shutdown. It blocks.
func (a *app) run() error {
	a.startBackground()
	if err := a.notifier.Ready(); err != nil {
		a.logger.Debug("sd_notify failed", "error", err)
	}
	a.logger.Info("Starting HTTP server", "port", a.opts.Port)
	if err := a.server.Start(a.opts.Port); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// shutdown stops the server, the capture run and every watcher, then closes
// the camera and the sinks. It is safe to call more than once.
func (a *app) shutdown(ctx context.Context) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	profile := a.profile
	a.profile = nil
	a.mu.Unlock()

	a.notifier.Stopping()
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("Error stopping HTTP server", "error", err)
	}
	if a.control != nil {
		a.control.Stop()
	}
	a.cancel()
	if profile != nil {
		profile.Stop()
	}
	a.closeCamera()
	a.wg.Wait()

	if err := a.pipe.Close(); err != nil {
		a.logger.Error("Error closing sinks", "error", err)
	}
	if attrs := a.pipe.Summary(); len(attrs) > 0 {
		a.logger.Info("Sinks closed", attrs...)
	}
	if a.natsServer != nil {
		a.natsServer.Stop()
	}
	a.stopLogs()
}
