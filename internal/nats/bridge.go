package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/smazurov/svbcapture/internal/camera"
)

// Controller is the camera surface driven by control messages.
type Controller interface {
	Label() string
	Start(ctx context.Context) error
	Stop() error
	SoftTrigger() error
	Status() camera.Status
}

var (
	errNoCamera      = errors.New("no camera open")
	errUnknownCamera = errors.New("unknown camera")
)

// ControlBridge answers requests on svbcapture.control.* by driving the
// camera returned by current. current may return nil while no camera is
// open.
type ControlBridge struct {
	conn    *nats.Conn
	current func() Controller
	runCtx  context.Context
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewControlBridge creates a bridge. Runs it starts are bounded by runCtx.
func NewControlBridge(conn *nats.Conn, runCtx context.Context, current func() Controller, logger *slog.Logger) *ControlBridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ControlBridge{
		conn:    conn,
		current: current,
		runCtx:  runCtx,
		logger:  logger.With("component", "nats-control"),
	}
}

// Start subscribes to the control subjects.
func (b *ControlBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.conn.Subscribe(SubjectControlPrefix+".*", b.handle)
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	b.sub = sub
	b.logger.Info("NATS control bridge started", "subject", SubjectControlPrefix+".*")
	return nil
}

// Stop unsubscribes. In-flight requests finish.
func (b *ControlBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		_ = b.sub.Drain()
		b.sub = nil
	}
}

func (b *ControlBridge) handle(msg *nats.Msg) {
	label := strings.TrimPrefix(msg.Subject, SubjectControlPrefix+".")
	reply := b.execute(label, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal control reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to send control reply", "error", err)
	}
}

func (b *ControlBridge) execute(label string, data []byte) ControlReply {
	ctrl, err := UnmarshalControl(data)
	if err != nil {
		return ControlReply{Error: fmt.Sprintf("invalid control message: %v", err)}
	}

	cam := b.current()
	if cam == nil {
		return ControlReply{Error: errNoCamera.Error()}
	}
	if !strings.EqualFold(cam.Label(), label) {
		return ControlReply{Error: fmt.Sprintf("%v: %s", errUnknownCamera, label)}
	}

	b.logger.Info("Received control command", "camera", label, "action", ctrl.Action, "reason", ctrl.Reason)

	switch ctrl.Action {
	case ActionStart:
		err = cam.Start(b.runCtx)
	case ActionStop:
		err = cam.Stop()
	case ActionTrigger:
		err = cam.SoftTrigger()
	case ActionStatus:
	default:
		err = fmt.Errorf("unknown action %q", ctrl.Action)
	}

	st := cam.Status()
	r := ControlReply{OK: err == nil, State: string(st.State), Frames: st.Frames}
	if st.RunID != uuid.Nil {
		r.RunID = st.RunID.String()
	}
	if err != nil {
		r.Error = err.Error()
		b.logger.Warn("Control command failed", "camera", label, "action", ctrl.Action, "error", err)
	}
	return r
}
