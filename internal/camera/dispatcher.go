package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/svbcapture/internal/metrics"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// Frame is one captured image together with its acquisition metadata.
//
// Data belongs to the acquisition loop's buffer pool and is only valid for
// the duration of the OnFrame call that received it. Consumers that keep
// pixels must Clone the frame.
type Frame struct {
	Camera    string
	RunID     uuid.UUID
	Seq       uint64
	Timestamp time.Time
	Exposure  time.Duration
	BitDepth  int
	ImageType svb.ImageType
	Width     int
	Height    int
	Data      []byte
}

// Clone returns a copy of f that owns its pixel data.
func (f Frame) Clone() Frame {
	f.Data = slices.Clone(f.Data)
	return f
}

// Consumer receives frames in acquisition order on the acquisition goroutine.
// A slow consumer delays the next frame read.
type Consumer interface {
	OnFrame(Frame) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(Frame) error

func (fn ConsumerFunc) OnFrame(f Frame) error {
	return fn(f)
}

// ConsumerStats counts deliveries to one consumer.
type ConsumerStats struct {
	Name      string `json:"name"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

type registration struct {
	id        uint64
	name      string
	consumer  Consumer
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// Dispatcher fans frames out to registered consumers in registration order.
// A consumer that fails or panics is logged and counted; later consumers
// still receive the frame and acquisition continues.
type Dispatcher struct {
	mu     sync.RWMutex
	regs   []*registration
	nextID uint64

	label  string
	logger *slog.Logger
}

// NewDispatcher returns an empty dispatcher. label tags metrics and logs.
func NewDispatcher(label string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{label: label, logger: logger}
}

// Register appends c under name and returns a function that removes it.
// Registration is safe while frames are being dispatched; it takes effect
// from the next frame.
func (d *Dispatcher) Register(name string, c Consumer) (unregister func()) {
	d.mu.Lock()
	d.nextID++
	reg := &registration{id: d.nextID, name: name, consumer: c}
	regs := make([]*registration, len(d.regs), len(d.regs)+1)
	copy(regs, d.regs)
	d.regs = append(regs, reg)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(reg.id) })
	}
}

// RegisterFunc is Register with a ConsumerFunc.
func (d *Dispatcher) RegisterFunc(name string, fn func(Frame) error) (unregister func()) {
	return d.Register(name, ConsumerFunc(fn))
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = slices.DeleteFunc(slices.Clone(d.regs), func(r *registration) bool {
		return r.id == id
	})
}

// Len returns the number of registered consumers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// Stats returns per-consumer delivery counts in registration order.
func (d *Dispatcher) Stats() []ConsumerStats {
	d.mu.RLock()
	regs := d.regs
	d.mu.RUnlock()

	out := make([]ConsumerStats, len(regs))
	for i, r := range regs {
		out[i] = ConsumerStats{Name: r.name, Delivered: r.delivered.Load(), Failed: r.failed.Load()}
	}
	return out
}

// Dispatch delivers f to every consumer and returns their failures joined,
// or nil when all succeeded.
func (d *Dispatcher) Dispatch(f Frame) error {
	d.mu.RLock()
	regs := d.regs
	d.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if err := d.deliver(r, f); err != nil {
			r.failed.Add(1)
			metrics.RecordDispatchFailure(d.label, r.name)
			d.logger.Warn("Frame consumer failed", "consumer", r.name, "seq", f.Seq, "error", err)
			errs = append(errs, &ConsumerError{Consumer: r.name, Seq: f.Seq, Err: err})
			continue
		}
		r.delivered.Add(1)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(r *registration, f Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrConsumerPanic, p)
		}
	}()
	return r.consumer.OnFrame(f)
}
