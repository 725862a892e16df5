package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/svbcapture/internal/events"
)

// Source produces uevents until ctx is done, closing out on return.
// *Monitor is the production Source.
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
}

// Watcher turns SVBony attach and detach uevents into DeviceHotplugEvent
// and callbacks.
type Watcher struct {
	src    Source
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	onAdd    []func(Event)
	onRemove []func(Event)
}

// NewWatcher reads from src and publishes to bus, which may be nil.
func NewWatcher(src Source, bus *events.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{src: src, bus: bus, logger: logger}
}

// OnAdd registers fn for camera attach events.
func (w *Watcher) OnAdd(fn func(Event)) {
	w.mu.Lock()
	w.onAdd = append(w.onAdd, fn)
	w.mu.Unlock()
}

// OnRemove registers fn for camera detach events.
func (w *Watcher) OnRemove(fn func(Event)) {
	w.mu.Lock()
	w.onRemove = append(w.onRemove, fn)
	w.mu.Unlock()
}

// Run blocks until ctx is done or the source fails.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- w.src.Run(ctx, ch) }()

	w.logger.Info("Watching for SVBony devices", "vendor", fmt.Sprintf("%04x", SVBonyVendorID))
	for ev := range ch {
		w.handle(ev)
	}

	err := <-errc
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *Watcher) handle(ev Event) {
	if !ev.IsSVBonyCamera() {
		return
	}
	var fns []func(Event)
	w.mu.Lock()
	switch ev.Action {
	case ActionAdd:
		fns = append(fns, w.onAdd...)
	case ActionRemove:
		fns = append(fns, w.onRemove...)
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	id, _ := ev.USB()
	w.logger.Info("Camera hotplug", "action", ev.Action, "devpath", ev.DevPath, "product", fmt.Sprintf("%04x", id.Product))
	if w.bus != nil {
		w.bus.Publish(events.DeviceHotplugEvent{
			Action:    ev.Action,
			DevPath:   ev.DevPath,
			ProductID: fmt.Sprintf("%04x", id.Product),
			Serial:    ev.Env["SERIAL"],
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	for _, fn := range fns {
		fn(ev)
	}
}
