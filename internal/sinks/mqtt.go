package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smazurov/svbcapture/internal/camera"
)

var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrBacklog is returned when too many frame publishes await the broker.
	ErrBacklog = errors.New("mqtt publish backlog full")
)

// maxInFlight bounds frame publishes awaiting broker completion.
const maxInFlight = 64

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
}

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	// Prefix is the topic root; topics are <prefix>/<camera>/frames and
	// <prefix>/<camera>/state.
	Prefix string
	QoS    byte
	// Every publishes one frame in N. Zero or one publishes all.
	Every  int
	Logger *slog.Logger
}

// MQTTSink publishes frame metadata and run state as JSON. Publishing never
// blocks: tokens are kept until they complete and every completed one is
// counted on the next frame, where frame failures are returned.
type MQTTSink struct {
	pub    Publisher
	prefix string
	qos    byte
	every  uint64
	logger *slog.Logger

	mu       sync.Mutex
	inflight []mqttToken

	published atomic.Uint64
	failed    atomic.Uint64
}

// mqttToken is a publish awaiting completion. seq is zero for state
// messages.
type mqttToken struct {
	tok   mqtt.Token
	seq   uint64
	state camera.State
}

// NewMQTTSink publishes through pub.
func NewMQTTSink(pub Publisher, o MQTTOptions) *MQTTSink {
	if o.Prefix == "" {
		o.Prefix = "svbcapture"
	}
	every := uint64(1)
	if o.Every > 1 {
		every = uint64(o.Every)
	}
	return &MQTTSink{
		pub:    pub,
		prefix: o.Prefix,
		qos:    o.QoS,
		every:  every,
		logger: orDiscard(o.Logger),
	}
}

// FrameTopic is the topic frame metadata for cameraLabel goes to.
func (s *MQTTSink) FrameTopic(cameraLabel string) string {
	return s.prefix + "/" + cameraLabel + "/frames"
}

// StateTopic is the retained topic carrying the run state.
func (s *MQTTSink) StateTopic(cameraLabel string) string {
	return s.prefix + "/" + cameraLabel + "/state"
}

// OnFrame publishes the frame's Metadata. The error reports earlier
// publishes that failed since the last frame, or why this one was refused.
func (s *MQTTSink) OnFrame(f camera.Frame) error {
	err := s.reap()
	if (f.Seq-1)%s.every != 0 {
		return err
	}
	if !s.pub.IsConnectionOpen() {
		s.failed.Add(1)
		return errors.Join(err, ErrNotConnected)
	}
	if s.frameBacklog() >= maxInFlight {
		s.failed.Add(1)
		return errors.Join(err, fmt.Errorf("frame %d: %w", f.Seq, ErrBacklog))
	}
	payload, merr := json.Marshal(NewMetadata(f))
	if merr != nil {
		return errors.Join(err, merr)
	}
	tok := s.pub.Publish(s.FrameTopic(f.Camera), s.qos, false, payload)
	s.track(mqttToken{tok: tok, seq: f.Seq})
	return err
}

func (s *MQTTSink) track(t mqttToken) {
	s.mu.Lock()
	s.inflight = append(s.inflight, t)
	s.mu.Unlock()
}

func (s *MQTTSink) frameBacklog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.inflight {
		if t.seq != 0 {
			n++
		}
	}
	return n
}

// reap counts every completed publish without waiting for the rest and
// returns the frame failures among them. State failures are logged.
func (s *MQTTSink) reap() error {
	s.mu.Lock()
	var completed []mqttToken
	keep := s.inflight[:0]
	for _, t := range s.inflight {
		select {
		case <-t.tok.Done():
			completed = append(completed, t)
		default:
			keep = append(keep, t)
		}
	}
	clear(s.inflight[len(keep):])
	s.inflight = keep
	s.mu.Unlock()

	var errs []error
	for _, t := range completed {
		err := t.tok.Error()
		if err == nil {
			s.published.Add(1)
			continue
		}
		s.failed.Add(1)
		if t.seq == 0 {
			s.logger.Warn("State publish failed", "state", t.state, "error", err)
			continue
		}
		errs = append(errs, fmt.Errorf("publish frame %d: %w", t.seq, err))
	}
	return errors.Join(errs...)
}

// Flush waits up to timeout for publishes in flight, then counts what
// completed and returns the frame failures.
func (s *MQTTSink) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	s.mu.Lock()
	pending := slices.Clone(s.inflight)
	s.mu.Unlock()
	for _, t := range pending {
		if !t.tok.WaitTimeout(time.Until(deadline)) {
			break
		}
	}
	return s.reap()
}

func (s *MQTTSink) stateMessage(sc camera.StateChange) ([]byte, error) {
	msg := struct {
		State     camera.State `json:"state"`
		RunID     string       `json:"run_id"`
		Frames    uint64       `json:"frames"`
		Error     string       `json:"error,omitempty"`
		Timestamp time.Time    `json:"timestamp"`
	}{
		State:     sc.State,
		RunID:     sc.RunID.String(),
		Frames:    sc.Frames,
		Timestamp: time.Now().UTC(),
	}
	if sc.Err != nil {
		msg.Error = sc.Err.Error()
	}
	return json.Marshal(msg)
}

// PublishState publishes sc as a retained message and waits up to timeout.
func (s *MQTTSink) PublishState(sc camera.StateChange, timeout time.Duration) error {
	payload, err := s.stateMessage(sc)
	if err != nil {
		return err
	}
	tok := s.pub.Publish(s.StateTopic(sc.Camera), 1, true, payload)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("publish state %s: timeout", sc.State)
	}
	return tok.Error()
}

// StateListener returns a camera.WithStateListener callback that publishes
// the retained state without waiting. Failures are logged when reaped.
func (s *MQTTSink) StateListener() func(camera.StateChange) {
	return func(sc camera.StateChange) {
		payload, err := s.stateMessage(sc)
		if err != nil {
			s.logger.Warn("State encode failed", "state", sc.State, "error", err)
			return
		}
		tok := s.pub.Publish(s.StateTopic(sc.Camera), 1, true, payload)
		s.track(mqttToken{tok: tok, state: sc.State})
	}
}

// Stats returns confirmed and failed publishes counted so far.
func (s *MQTTSink) Stats() (published, failed uint64) {
	return s.published.Load(), s.failed.Load()
}

// ConnectMQTT dials broker with automatic reconnect and waits for the first
// connection until ctx is done.
func ConnectMQTT(ctx context.Context, broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	logger = orDiscard(logger)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(10 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("MQTT connected", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", broker, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return client, nil
}
