package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/svbcapture/cmd"
	"github.com/smazurov/svbcapture/internal/config"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port              string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CorsOrigin        string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`
	PrometheusEnabled bool   `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"server.prometheus" env:"SERVER_PROMETHEUS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Camera settings
	CameraSimulate     bool   `help:"Use the simulated camera instead of the vendor SDK" default:"false" toml:"camera.simulate" env:"CAMERA_SIMULATE"`
	CameraIndex        int    `help:"Camera index" default:"0" toml:"camera.index" env:"CAMERA_INDEX"`
	CameraSerial       string `help:"Camera serial number, takes precedence over the index" default:"" toml:"camera.serial" env:"CAMERA_SERIAL"`
	CameraImageType    string `help:"Output image type applied at open" default:"" toml:"camera.image_type" env:"CAMERA_IMAGE_TYPE"`
	CameraBuffers      int    `help:"Frame buffers a run rotates through" default:"10" toml:"camera.buffers" env:"CAMERA_BUFFERS"`
	CameraStrictRange  bool   `help:"Reject out-of-range control writes instead of letting the device clamp" default:"false" toml:"camera.strict_range" env:"CAMERA_STRICT_RANGE"`
	CameraProfile      string `help:"Control profile applied when the camera opens" default:"" toml:"camera.profile" env:"CAMERA_PROFILE"`
	CameraProfileWatch bool   `help:"Re-apply the control profile when the file changes" default:"true" toml:"camera.profile_watch" env:"CAMERA_PROFILE_WATCH"`

	// Capture settings
	CaptureAutostart bool `help:"Start capturing as soon as the camera opens" default:"false" toml:"capture.autostart" env:"CAPTURE_AUTOSTART"`

	// Sink settings
	SinksRawPath     string `help:"Record frames to this raw file" default:"" toml:"sinks.raw_path" env:"SINKS_RAW_PATH"`
	SinksRawZstd     bool   `help:"Compress the raw recording with zstd" default:"false" toml:"sinks.raw_zstd" env:"SINKS_RAW_ZSTD"`
	SinksRawIndex    bool   `help:"Write a JSON lines index next to the raw recording" default:"false" toml:"sinks.raw_index" env:"SINKS_RAW_INDEX"`
	SinksTiffDir     string `help:"Write TIFF snapshots to this directory" default:"" toml:"sinks.tiff_dir" env:"SINKS_TIFF_DIR"`
	SinksTiffEvery   int    `help:"Write one TIFF snapshot every N frames" default:"100" toml:"sinks.tiff_every" env:"SINKS_TIFF_EVERY"`
	EventsFrameEvery int    `help:"Publish a frame event for one frame in N, 0 disables" default:"1" toml:"events.frame_every" env:"EVENTS_FRAME_EVERY"`

	// MQTT settings
	MqttBroker   string `help:"MQTT broker URL, empty disables MQTT" default:"" toml:"mqtt.broker" env:"MQTT_BROKER"`
	MqttPrefix   string `help:"MQTT topic prefix" default:"svbcapture" toml:"mqtt.prefix" env:"MQTT_PREFIX"`
	MqttClientId string `help:"MQTT client ID, generated when empty" default:"" toml:"mqtt.client_id" env:"MQTT_CLIENT_ID"`
	MqttEvery    int    `help:"Publish metadata for one frame in N" default:"1" toml:"mqtt.every" env:"MQTT_EVERY"`

	// NATS settings
	NatsUrl      string `help:"NATS server URL, empty disables NATS unless embedded" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsOpen     bool   `help:"Let embedded NATS clients use subjects outside svbcapture" default:"false" toml:"nats.open" env:"NATS_OPEN"`
	NatsEvery    int    `help:"Publish metadata for one frame in N" default:"1" toml:"nats.every" env:"NATS_EVERY"`
	NatsControl  bool   `help:"Accept start, stop and trigger commands over NATS" default:"true" toml:"nats.control" env:"NATS_CONTROL"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera  string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingSinks   string `help:"Sinks logging level" default:"info" toml:"logging.sinks" env:"LOGGING_SINKS"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingDevices string `help:"Hotplug logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingSystemd string `help:"systemd notification logging level" default:"info" toml:"logging.systemd" env:"LOGGING_SYSTEMD"`
	LoggingNats    string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"camera":  o.LoggingCamera,
			"sinks":   o.LoggingSinks,
			"api":     o.LoggingAPI,
			"config":  o.LoggingConfig,
			"devices": o.LoggingDevices,
			"systemd": o.LoggingSystemd,
			"nats":    o.LoggingNats,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		notifier := &systemd.Notifier{Logger: logging.GetLogger("systemd")}
		var (
			mu  sync.Mutex
			svc *app
		)

		hooks.OnStart(func() {
			a, err := newApp(opts, notifier)
			if err != nil {
				logger.Error("Failed to start", "error", err)
				os.Exit(1)
			}
			mu.Lock()
			svc = a
			mu.Unlock()
			if err := a.run(); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			mu.Lock()
			a := svc
			mu.Unlock()
			if a == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.shutdown(ctx)
		})
	})

	cli.Root().Use = "svbcapture"
	cli.Root().Short = "SVBony camera acquisition service"

	cli.Root().AddCommand(cmd.CreateListCmd())
	cli.Root().AddCommand(cmd.CreateControlsCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
