// Package pipeline assembles the frame consumers selected by configuration
// and attaches them to a camera.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/events"
	svbnats "github.com/smazurov/svbcapture/internal/nats"
	"github.com/smazurov/svbcapture/internal/sinks"
)

// Config selects consumers. Empty paths and brokers disable a consumer.
type Config struct {
	RawPath  string
	RawZstd  bool
	RawIndex bool

	TIFFDir   string
	TIFFEvery int

	MQTTBroker   string
	MQTTPrefix   string
	MQTTClientID string
	MQTTEvery    int

	NATSURL   string
	NATSEvery int

	// EventEvery publishes FrameCapturedEvent for one frame in N. Zero
	// disables frame events.
	EventEvery int
}

// Pipeline owns the consumers built from a Config.
type Pipeline struct {
	bus    *events.Bus
	logger *slog.Logger

	Raw  *sinks.RawWriter
	TIFF *sinks.TIFFSnapshot
	MQTT *sinks.MQTTSink
	NATS *svbnats.Publisher

	client     mqtt.Client
	natsConn   *nats.Conn
	consumers  []named
	unregister []func()
}

type named struct {
	name string
	c    camera.Consumer
}

// New creates every configured consumer. bus may be nil, which disables
// event publishing. On error, anything already opened is closed.
func New(ctx context.Context, cfg Config, bus *events.Bus, logger *slog.Logger) (p *Pipeline, err error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	partial := &Pipeline{bus: bus, logger: logger}
	p = partial
	defer func() {
		if err != nil {
			_ = partial.Close()
			p = nil
		}
	}()

	if cfg.RawPath != "" {
		opts := []sinks.RawOption{sinks.WithRawLogger(logger)}
		if cfg.RawZstd {
			opts = append(opts, sinks.Compressed(zstd.SpeedFastest))
		}
		if p.Raw, err = sinks.CreateRawFile(cfg.RawPath, cfg.RawIndex, opts...); err != nil {
			return nil, fmt.Errorf("raw recorder: %w", err)
		}
		p.consumers = append(p.consumers, named{"raw", p.Raw})
	}

	if cfg.TIFFDir != "" {
		if p.TIFF, err = sinks.NewTIFFSnapshot(cfg.TIFFDir, cfg.TIFFEvery, logger); err != nil {
			return nil, fmt.Errorf("tiff snapshots: %w", err)
		}
		p.consumers = append(p.consumers, named{"tiff", p.TIFF})
	}

	if cfg.MQTTBroker != "" {
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = defaultClientID()
		}
		if p.client, err = sinks.ConnectMQTT(ctx, cfg.MQTTBroker, clientID, logger); err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		p.MQTT = sinks.NewMQTTSink(p.client, sinks.MQTTOptions{
			Prefix: cfg.MQTTPrefix,
			QoS:    0,
			Every:  cfg.MQTTEvery,
			Logger: logger,
		})
		p.consumers = append(p.consumers, named{"mqtt", p.MQTT})
	}

	if cfg.NATSURL != "" {
		if p.natsConn, err = svbnats.Connect(cfg.NATSURL, "svbcapture-"+defaultClientID(), logger); err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		p.NATS = svbnats.NewPublisher(p.natsConn, cfg.NATSEvery, logger)
		p.consumers = append(p.consumers, named{"nats", p.NATS})
	}

	if bus != nil && cfg.EventEvery > 0 {
		p.consumers = append(p.consumers, named{"events", sinks.NewEventSink(bus, cfg.EventEvery)})
	}
	return p, nil
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "svbcapture"
	}
	return host + "-" + uuid.NewString()[:8]
}

// CameraOptions returns the listeners that forward state and control
// changes to the event bus, MQTT and NATS, followed by extra. Pass them to
// camera.Open.
func (p *Pipeline) CameraOptions(extra ...func(camera.StateChange)) []camera.Option {
	var state []func(camera.StateChange)
	var control []func(camera.ControlChange)
	if p.bus != nil {
		state = append(state, sinks.StateEvents(p.bus))
		control = append(control, sinks.ControlEvents(p.bus))
	}
	if p.MQTT != nil {
		state = append(state, p.MQTT.StateListener())
	}
	if p.NATS != nil {
		state = append(state, p.NATS.StateListener())
	}
	state = append(state, p.logState)
	state = append(state, extra...)
	return []camera.Option{
		camera.WithStateListener(sinks.Fanout(state...)),
		camera.WithControlListener(sinks.Fanout(control...)),
	}
}

func (p *Pipeline) logState(sc camera.StateChange) {
	if sc.Err != nil {
		p.logger.Error("Capture failed", "camera", sc.Camera, "run_id", sc.RunID, "frames", sc.Frames, "error", sc.Err)
	}
}

// Len is the number of configured consumers.
func (p *Pipeline) Len() int {
	return len(p.consumers)
}

// Attach registers every consumer with d, in configuration order.
func (p *Pipeline) Attach(d *camera.Dispatcher) {
	for _, n := range p.consumers {
		p.unregister = append(p.unregister, d.Register(n.name, n.c))
	}
}

// Detach removes the consumers registered by Attach.
func (p *Pipeline) Detach() {
	for _, fn := range p.unregister {
		fn()
	}
	p.unregister = nil
}

// NATSConn returns the NATS connection, or nil when NATS is not configured.
func (p *Pipeline) NATSConn() *nats.Conn {
	return p.natsConn
}

// Close detaches, flushes the recorder and disconnects from the brokers.
func (p *Pipeline) Close() error {
	p.Detach()
	var errs []error
	if p.Raw != nil {
		if err := p.Raw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close raw recorder: %w", err))
		}
	}
	if p.MQTT != nil {
		if err := p.MQTT.Flush(time.Second); err != nil {
			p.logger.Warn("MQTT publishes failed", "error", err)
		}
	}
	if p.client != nil {
		p.client.Disconnect(250)
	}
	if p.natsConn != nil {
		if err := p.natsConn.FlushTimeout(time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			p.logger.Warn("NATS flush failed", "error", err)
		}
		p.natsConn.Close()
	}
	return errors.Join(errs...)
}

// Summary returns log attributes describing what the consumers handled.
func (p *Pipeline) Summary() []any {
	var attrs []any
	if p.Raw != nil {
		frames, bytes := p.Raw.Stats()
		attrs = append(attrs, "raw_frames", frames, "raw_bytes", bytes)
	}
	if p.TIFF != nil {
		attrs = append(attrs, "tiff_written", p.TIFF.Written())
		if last, ok := p.TIFF.Last(); ok {
			attrs = append(attrs, "tiff_last", last)
		}
	}
	if p.MQTT != nil {
		published, failed := p.MQTT.Stats()
		attrs = append(attrs, "mqtt_published", published, "mqtt_failed", failed)
	}
	if p.NATS != nil {
		published, failed := p.NATS.Stats()
		attrs = append(attrs, "nats_published", published, "nats_failed", failed)
	}
	return attrs
}
