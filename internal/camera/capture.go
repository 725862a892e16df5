package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/svbcapture/internal/metrics"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// State is the acquisition state of a camera.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateStopping  State = "stopping"
)

// StateChange is emitted on every state transition.
type StateChange struct {
	Camera string    `json:"camera"`
	RunID  uuid.UUID `json:"run_id"`
	State  State     `json:"state"`
	Frames uint64    `json:"frames"`
	Err    error     `json:"-"`
}

// Status is a snapshot of the acquisition state.
type Status struct {
	State     State     `json:"state"`
	RunID     uuid.UUID `json:"run_id,omitzero"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Frames    uint64    `json:"frames"`
	LastError string    `json:"last_error,omitempty"`
}

type run struct {
	id      uuid.UUID
	started time.Time
	done    chan struct{}
	frames  atomic.Uint64
	err     error
}

// WaitTimeoutMs is the per-frame read timeout for an exposure in
// microseconds: twice the exposure plus 500 ms of readout slack.
func WaitTimeoutMs(exposureUS int64) int32 {
	if exposureUS < 0 {
		exposureUS = 0
	}
	ms := exposureUS*2/1000 + 500
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(ms)
}

// Start begins a run and returns once the acquisition goroutine is running.
// It fails with ErrStreamingActive while a previous run is active or still
// stopping. Cancelling ctx stops the run.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	if err := c.idleLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	size := c.roi.FrameSize(c.imgType)
	if size <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("frame geometry %s %s: %w", c.roi, c.imgType, svb.ErrInvalidSize)
	}
	if err := c.sdk.StartCapture(c.id); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start capture: %w", err)
	}

	r := &run{id: uuid.New(), started: c.opts.clock(), done: make(chan struct{})}
	geom := frameGeometry{roi: c.roi, imgType: c.imgType}
	pool := newBufferPool(c.opts.buffers, size)
	c.run = r
	c.last = r
	c.running.Store(true)
	c.emit(StateChange{RunID: r.id, State: StateCapturing}, nil)
	c.mu.Unlock()

	metrics.SetActive(c.label, true)
	c.logger.Info("Capture started",
		"run_id", r.id,
		"roi", geom.roi.String(),
		"frame_bytes", size,
		"buffers", c.opts.buffers,
		"wait_ms", WaitTimeoutMs(c.controls.exposureUS.Load()))

	go c.loop(r, pool, geom)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.stopRun(r)
			case <-r.done:
			}
		}()
	}
	return nil
}

// Stop asks the active run to end and returns without waiting. The loop
// exits on its next timeout or frame. Stop while idle is a no-op.
func (c *Camera) Stop() error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return c.stopRun(r)
}

func (c *Camera) stopRun(r *run) error {
	c.mu.Lock()
	if c.run != r || !c.running.CompareAndSwap(true, false) {
		c.mu.Unlock()
		return nil
	}
	c.emit(StateChange{RunID: r.id, State: StateStopping, Frames: r.frames.Load()}, nil)
	c.mu.Unlock()

	c.logger.Info("Capture stopping", "run_id", r.id)
	if err := c.sdk.StopCapture(c.id); err != nil {
		c.logger.Warn("Stop capture failed", "run_id", r.id, "error", err)
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Wait blocks until the most recent run has ended and its final state change
// was delivered, and returns the error that ended it, or nil for a requested
// stop. It returns nil at once if no run
// was ever started.
func (c *Camera) Wait() error {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Done is closed when the most recent run ends.
func (c *Camera) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.last.done
}

// Status reports the current acquisition state.
func (c *Camera) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.run
	if r == nil {
		s := Status{State: StateIdle}
		if c.last != nil {
			s.RunID = c.last.id
			s.Frames = c.last.frames.Load()
			if c.last.err != nil {
				s.LastError = c.last.err.Error()
			}
		}
		return s
	}

	s := Status{State: StateCapturing, RunID: r.id, StartedAt: r.started, Frames: r.frames.Load()}
	if !c.running.Load() {
		s.State = StateStopping
	}
	return s
}

type frameGeometry struct {
	roi     svb.ROI
	imgType svb.ImageType
}

func (c *Camera) loop(r *run, pool *bufferPool, geom frameGeometry) {
	log := c.logger.With("run_id", r.id)
	size := geom.roi.FrameSize(geom.imgType)

	var (
		err  error
		last time.Time
	)
	defer func() { c.finish(r, err) }()

	for {
		if !c.running.Load() {
			return
		}
		if c.controls.AutoExposure() {
			if rerr := c.controls.RefreshExposure(); rerr != nil {
				log.Debug("Exposure refresh failed", "error", rerr)
			}
		}

		exposureUS := c.controls.exposureUS.Load()
		waitMs := WaitTimeoutMs(exposureUS)
		buf := pool.next()

		rerr := c.sdk.VideoData(c.id, buf[:size], waitMs)
		ts := c.opts.clock()

		if rerr != nil {
			if errors.Is(rerr, svb.ErrTimeout) {
				metrics.RecordTimeout(c.label)
			}
			// Stop ended streaming under the read.
			if !c.running.Load() {
				log.Debug("Read ended by stop", "error", rerr)
				return
			}
			err = fmt.Errorf("read frame %d (wait %d ms): %w", r.frames.Load()+1, waitMs, rerr)
			log.Error("Capture failed", "error", rerr, "wait_ms", waitMs)
			c.abort(r)
			return
		}

		if !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
		var interval time.Duration
		if !last.IsZero() {
			interval = ts.Sub(last)
		}
		last = ts

		seq := r.frames.Add(1)
		frame := Frame{
			Camera:    c.label,
			RunID:     r.id,
			Seq:       seq,
			Timestamp: ts,
			Exposure:  time.Duration(exposureUS) * time.Microsecond,
			BitDepth:  geom.imgType.BitDepth(),
			ImageType: geom.imgType,
			Width:     int(geom.roi.Width),
			Height:    int(geom.roi.Height),
			Data:      buf[:size],
		}
		metrics.RecordFrame(c.label, size, ts, interval)

		if derr := c.dispatcher.Dispatch(frame); derr != nil {
			log.Debug("Dispatch reported failures", "seq", seq, "error", derr)
		}
	}
}

// abort ends device streaming after a fatal read. If Stop raced us and
// already ended streaming, nothing is sent twice.
func (c *Camera) abort(r *run) {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	if err := c.sdk.StopCapture(c.id); err != nil {
		c.logger.Warn("Stop capture after failure", "run_id", r.id, "error", err)
	}
}

func (c *Camera) finish(r *run, err error) {
	if n, derr := c.sdk.DroppedFrames(c.id); derr == nil {
		metrics.SetDroppedFrames(c.label, n)
	}
	metrics.SetActive(c.label, false)

	frames := r.frames.Load()
	if err != nil {
		c.logger.Error("Capture ended with error", "run_id", r.id, "frames", frames, "error", err)
	} else {
		c.logger.Info("Capture stopped", "run_id", r.id, "frames", frames, "duration", time.Since(r.started))
	}

	c.mu.Lock()
	r.err = err
	c.run = nil
	c.emit(StateChange{RunID: r.id, State: StateIdle, Frames: frames, Err: err}, func() { close(r.done) })
	c.mu.Unlock()
}

// emit queues sc for the state listener. Callers hold c.mu so transitions
// reach the listener in the order they happened. after runs once the
// listener has seen sc, or at once without a listener.
func (c *Camera) emit(sc StateChange, after func()) {
	if c.states == nil {
		if after != nil {
			after()
		}
		return
	}
	sc.Camera = c.label
	c.states.push(sc, after)
}

// bufferPool rotates a fixed set of frame buffers. It is owned by one loop
// goroutine; with synchronous dispatch a slot is never handed out while a
// consumer still holds it.
type bufferPool struct {
	bufs [][]byte
	i    int
}

func newBufferPool(n, size int) *bufferPool {
	p := &bufferPool{bufs: make([][]byte, n)}
	for i := range p.bufs {
		p.bufs[i] = make([]byte, size)
	}
	return p
}

func (p *bufferPool) next() []byte {
	b := p.bufs[p.i]
	p.i = (p.i + 1) % len(p.bufs)
	return b
}
