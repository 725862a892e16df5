package nats

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/sinks"
)

// ErrNotConnected is returned while the connection is down.
var ErrNotConnected = errors.New("nats not connected")

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
	IsConnected() bool
}

// Publisher is a frame consumer that sends frame metadata and state changes
// to NATS. Publish only buffers, so OnFrame never waits on the network.
type Publisher struct {
	conn   Conn
	every  uint64
	logger *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher publishes one frame in every. Zero or one publishes all.
func NewPublisher(conn Conn, every int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := uint64(1)
	if every > 1 {
		n = uint64(every)
	}
	return &Publisher{conn: conn, every: n, logger: logger}
}

// OnFrame publishes the frame's metadata.
func (p *Publisher) OnFrame(f camera.Frame) error {
	if (f.Seq-1)%p.every != 0 {
		return nil
	}
	if !p.conn.IsConnected() {
		p.failed.Add(1)
		return ErrNotConnected
	}
	data, err := json.Marshal(sinks.NewMetadata(f))
	if err != nil {
		return err
	}
	if err := p.conn.Publish(SubjectFrames(f.Camera), data); err != nil {
		p.failed.Add(1)
		return err
	}
	p.published.Add(1)
	return nil
}

// PublishState sends sc on the camera's state subject.
func (p *Publisher) PublishState(sc camera.StateChange) error {
	msg := StateMessage{
		Camera:    sc.Camera,
		RunID:     sc.RunID.String(),
		State:     string(sc.State),
		Frames:    sc.Frames,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if sc.Err != nil {
		msg.Error = sc.Err.Error()
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectState(sc.Camera), data)
}

// StateListener adapts PublishState for camera.WithStateListener.
func (p *Publisher) StateListener() func(camera.StateChange) {
	return func(sc camera.StateChange) {
		if err := p.PublishState(sc); err != nil {
			p.logger.Warn("State publish failed", "state", sc.State, "error", err)
		}
	}
}

// Stats returns publishes handed to the connection and those refused.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
