// Package logging builds the process logger and an in-memory recorder for
// inspecting what was logged.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Output formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures New.
type Options struct {
	Level  slog.Level
	Format string

	// Recorder, when set, receives every record in addition to w.
	Recorder *Recorder
}

// ParseLevel maps debug, info, warn and error to their slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w in the requested format.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	ho := &slog.HandlerOptions{Level: opts.Level}
	var h slog.Handler
	switch opts.Format {
	case "", FormatText:
		h = slog.NewTextHandler(w, ho)
	case FormatJSON:
		h = slog.NewJSONHandler(w, ho)
	default:
		return nil, fmt.Errorf("unknown log format %q (want %q or %q)", opts.Format, FormatText, FormatJSON)
	}
	if opts.Recorder != nil {
		h = teeHandler{h, opts.Recorder}
	}
	return slog.New(h), nil
}

// Entry is one recorded log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// recorderStore is shared by a Recorder and the handlers derived from it.
type recorderStore struct {
	mutex   sync.RWMutex
	entries []Entry
	maxSize int
}

// Recorder is a slog.Handler keeping the most recent records in memory.
type Recorder struct {
	store  *recorderStore
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewRecorder keeps up to maxEntries records; older ones are discarded. A
// non-positive size defaults to 1000.
func NewRecorder(maxEntries int, level slog.Leveler) *Recorder {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if level == nil {
		level = slog.LevelDebug
	}
	return &Recorder{
		store: &recorderStore{
			entries: make([]Entry, 0, maxEntries),
			maxSize: maxEntries,
		},
		level: level,
	}
}

// Logger returns a logger that writes only to r.
func (r *Recorder) Logger() *slog.Logger {
	return slog.New(r)
}

// Enabled implements slog.Handler.
func (r *Recorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.level.Level()
}

// Handle implements slog.Handler.
func (r *Recorder) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(r.attrs)+record.NumAttrs())
	for _, a := range r.attrs {
		addAttr(attrs, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, r.prefix, a)
		return true
	})

	s := r.store
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries = append(s.entries, Entry{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	return nil
}

func addAttr(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}

// WithAttrs implements slog.Handler.
func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return r
	}
	next := *r
	next.attrs = make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	next.attrs = append(next.attrs, r.attrs...)
	for _, a := range attrs {
		if r.prefix != "" {
			a.Key = r.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (r *Recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	next := *r
	next.prefix = r.prefix + name + "."
	return &next
}

// Entries returns a copy of every retained entry, oldest first.
func (r *Recorder) Entries() []Entry {
	s := r.store
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Recent returns the last count entries.
func (r *Recorder) Recent(count int) []Entry {
	s := r.store
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if count <= 0 || count > len(s.entries) {
		count = len(s.entries)
	}
	out := make([]Entry, count)
	copy(out, s.entries[len(s.entries)-count:])
	return out
}

// Search returns the entries whose message or attribute values contain
// query, ignoring case.
func (r *Recorder) Search(query string) []Entry {
	s := r.store
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	query = strings.ToLower(query)
	var matches []Entry
	for _, e := range s.entries {
		if strings.Contains(strings.ToLower(e.Message), query) {
			matches = append(matches, e)
			continue
		}
		for _, v := range e.Attrs {
			if strings.Contains(strings.ToLower(v), query) {
				matches = append(matches, e)
				break
			}
		}
	}
	return matches
}

// Clear drops every entry.
func (r *Recorder) Clear() {
	s := r.store
	s.mutex.Lock()
	s.entries = s.entries[:0]
	s.mutex.Unlock()
}

// teeHandler sends each record to two handlers.
type teeHandler struct {
	a, b slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.a.Enabled(ctx, level) || t.b.Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if t.a.Enabled(ctx, record.Level) {
		errs = append(errs, t.a.Handle(ctx, record.Clone()))
	}
	if t.b.Enabled(ctx, record.Level) {
		errs = append(errs, t.b.Handle(ctx, record))
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t.a.WithAttrs(attrs), t.b.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t.a.WithGroup(name), t.b.WithGroup(name)}
}
