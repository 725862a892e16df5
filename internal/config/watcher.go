package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a file on change and hands the fresh value to handlers.
// The parent directory is watched so that editors which save by rename are
// picked up too.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	load     func(path string) (T, error)
	onError  func(error)
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int

	fsw  *fsnotify.Watcher
	quit chan struct{}
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets the quiet period after the last change before reloading.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) { w.debounce = d }
}

// WithErrorHandler receives load failures. The previous value stays in
// effect; handlers are not called.
func WithErrorHandler[T any](fn func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) { w.onError = fn }
}

// NewWatcher returns a stopped watcher for path. load is called on every
// change, never cached.
func NewWatcher[T any](path string, load func(string) (T, error), logger *slog.Logger, opts ...WatcherOption[T]) *Watcher[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		load:     load,
		logger:   logger.With("path", path),
		handlers: make(map[int]func(T)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers fn and returns a function that removes it.
func (w *Watcher[T]) OnReload(fn func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching.
func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw
	w.quit = make(chan struct{})
	w.done = make(chan struct{})

	w.logger.Info("Watching file", "debounce", w.debounce)
	go w.run()
	return nil
}

// Stop ends watching and waits for the watch goroutine. A pending reload is
// dropped.
func (w *Watcher[T]) Stop() error {
	if w.fsw == nil {
		return nil
	}
	close(w.quit)
	<-w.done
	err := w.fsw.Close()
	w.fsw = nil
	return err
}

func (w *Watcher[T]) run() {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.quit:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("File change", "op", ev.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (w *Watcher[T]) reload() {
	value, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("Reload failed", "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	ids := make([]int, 0, len(w.handlers))
	for id := range w.handlers {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	// Handlers run in registration order on the same snapshot.
	slices.Sort(ids)
	w.logger.Info("File reloaded", "handlers", len(ids))
	for _, id := range ids {
		w.mu.Lock()
		fn := w.handlers[id]
		w.mu.Unlock()
		if fn != nil {
			fn(value)
		}
	}
}
