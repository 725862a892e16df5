package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// MultiHandler forwards each record to every handler that accepts its level.
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: out}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: out}
}

// JournalAvailable reports whether journald accepts messages on this host.
func JournalAvailable() bool {
	return journal.Enabled()
}

// JournalHandler writes records to the systemd journal as structured fields.
// Attribute keys become upper-case field names, groups are joined with "_".
type JournalHandler struct {
	ident  string
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func NewJournalHandler(ident string, level slog.Leveler) *JournalHandler {
	return &JournalHandler{ident: ident, level: level}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	pri := priority(r.Level)
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": h.ident,
		"PRIORITY":          strconv.Itoa(int(pri)),
	}
	for _, a := range h.attrs {
		journalField(vars, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		journalField(vars, h.prefix, a)
		return true
	})

	if err := journal.Send(r.Message, pri, vars); err != nil {
		fmt.Fprintf(os.Stderr, "journal send: %v\n", err)
		return err
	}
	return nil
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "_"
	return &next
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	}
	return journal.PriDebug
}

func journalField(vars map[string]string, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.ToUpper(prefix + a.Key)
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		for _, ga := range v.Group() {
			journalField(vars, key+"_", ga)
		}
	case slog.KindTime:
		vars[key] = v.Time().Format(time.RFC3339Nano)
	default:
		vars[key] = v.String()
	}
}
