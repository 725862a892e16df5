package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one log record as kept in the history.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// History is a fixed-capacity ring of recent entries, safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{entries: make([]Entry, capacity)}
}

// Add stores e, overwriting the oldest entry once the ring is full.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Entries returns the stored entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]Entry(nil), h.entries[:h.next]...)
	}
	out := make([]Entry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}

// Tail returns at most n of the newest entries, oldest first.
func (h *History) Tail(n int) []Entry {
	all := h.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// HistoryHandler is a slog.Handler that records into a History.
type HistoryHandler struct {
	history *History
	level   slog.Leveler
	attrs   []slog.Attr
	groups  []string
	notify  EntryFunc
}

func NewHistoryHandler(history *History, level slog.Leveler, notify EntryFunc) *HistoryHandler {
	return &HistoryHandler{history: history, level: level, notify: notify}
}

func (h *HistoryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *HistoryHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   strings.ToLower(r.Level.String()),
		Module:  "svbcapture",
		Message: r.Message,
	}
	collect := func(a slog.Attr) {
		if a.Key == "module" && len(h.groups) == 0 {
			e.Module = a.Value.String()
			return
		}
		if e.Attributes == nil {
			e.Attributes = make(map[string]any)
		}
		flatten(e.Attributes, h.groups, a)
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	h.history.Add(e)
	if h.notify != nil {
		h.notify(e)
	}
	return nil
}

func (h *HistoryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *HistoryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func flatten(dst map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		sub := append(append([]string(nil), groups...), a.Key)
		for _, ga := range v.Group() {
			flatten(dst, sub, ga)
		}
	case slog.KindDuration:
		dst[key] = v.Duration().String()
	case slog.KindTime:
		dst[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			dst[key] = err.Error()
		} else {
			dst[key] = v.Any()
		}
	default:
		dst[key] = v.Any()
	}
}
