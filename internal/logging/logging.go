package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const historySize = 1000

// Logger is satisfied by *slog.Logger. Packages that only emit records take
// this instead of the concrete type so tests can pass a discard logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the global level, output format and per-module overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type module struct {
	level   *slog.LevelVar
	handler *swapHandler
	logger  *slog.Logger
}

var (
	mu      sync.Mutex
	current Config
	modules = make(map[string]*module)
	history = NewHistory(historySize)
	onEntry atomic.Pointer[EntryFunc]
)

// EntryFunc receives every entry written to the history.
type EntryFunc func(Entry)

// Initialize applies cfg to every existing and future module logger and
// installs a matching default slog logger.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	for name, m := range modules {
		m.level.Set(levelFor(cfg, name))
		m.handler.swap(newSink(cfg.Format, m.level))
	}

	root := &slog.LevelVar{}
	root.Set(levelFor(cfg, ""))
	slog.SetDefault(slog.New(newSink(cfg.Format, root)))
}

// GetLogger returns the logger for name, creating it on first use.
func GetLogger(name string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if m, ok := modules[name]; ok {
		return m.logger
	}

	lv := &slog.LevelVar{}
	lv.Set(levelFor(current, name))
	sh := &swapHandler{}
	sh.swap(newSink(current.Format, lv))

	m := &module{level: lv, handler: sh}
	m.logger = slog.New(sh).With("module", name)
	modules[name] = m
	return m.logger
}

// SetLevel changes a module's level at runtime. Unknown levels are ignored.
func SetLevel(name, level string) bool {
	l, ok := parseLevel(level)
	if !ok {
		return false
	}
	GetLogger(name)
	mu.Lock()
	modules[name].level.Set(l)
	mu.Unlock()
	return true
}

// GetHistory returns the shared history of recent entries.
func GetHistory() *History {
	return history
}

// OnEntry registers fn to be called for each new history entry. Passing nil
// clears the callback.
func OnEntry(fn EntryFunc) {
	if fn == nil {
		onEntry.Store(nil)
		return
	}
	onEntry.Store(&fn)
}

func newSink(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var sinks []slog.Handler
	if stdoutUsable() {
		sinks = append(sinks, stdout)
	}
	if JournalAvailable() {
		sinks = append(sinks, NewJournalHandler("svbcapture", level))
	}
	sinks = append(sinks, NewHistoryHandler(history, level, notify))

	if len(sinks) == 1 {
		return sinks[0]
	}
	return NewMultiHandler(sinks...)
}

func notify(e Entry) {
	if fn := onEntry.Load(); fn != nil {
		(*fn)(e)
	}
}

// stdoutUsable is false when stdout is /dev/null, as under some service managers.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func levelFor(cfg Config, name string) slog.Level {
	if s, ok := cfg.Modules[name]; ok && name != "" {
		if l, ok := parseLevel(s); ok {
			return l
		}
	}
	if l, ok := parseLevel(cfg.Level); ok {
		return l
	}
	return slog.LevelInfo
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

// swapHandler lets Initialize replace the sink behind loggers that were
// already handed out. Attributes and groups are replayed onto the new sink.
type swapHandler struct {
	inner atomic.Pointer[slog.Handler]
}

func (s *swapHandler) swap(h slog.Handler) {
	s.inner.Store(&h)
}

func (s *swapHandler) load() slog.Handler {
	return *s.inner.Load()
}

func (s *swapHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return s.load().Enabled(ctx, l)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.load().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedHandler{root: s, ops: []func(slog.Handler) slog.Handler{
		func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) },
	}}
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	return &derivedHandler{root: s, ops: []func(slog.Handler) slog.Handler{
		func(h slog.Handler) slog.Handler { return h.WithGroup(name) },
	}}
}

type derivedHandler struct {
	root *swapHandler
	ops  []func(slog.Handler) slog.Handler
}

func (d *derivedHandler) resolve() slog.Handler {
	h := d.root.load()
	for _, op := range d.ops {
		h = op(h)
	}
	return h
}

func (d *derivedHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return d.root.load().Enabled(ctx, l)
}

func (d *derivedHandler) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d *derivedHandler) with(op func(slog.Handler) slog.Handler) *derivedHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(d.ops), len(d.ops)+1)
	copy(ops, d.ops)
	return &derivedHandler{root: d.root, ops: append(ops, op)}
}

func (d *derivedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d *derivedHandler) WithGroup(name string) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}
