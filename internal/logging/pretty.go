package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders "<ts> <LEVEL> <component> [<artifact>]: <msg> k=v ...".
type prettyHandler struct {
	out       *lockedWriter
	level     *slog.LevelVar
	addSource bool
	prefix    string
	preset    []field
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(p []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{out: &lockedWriter{w: w}, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}

	line := lineBuilder{fields: append(make([]field, 0, len(h.preset)+record.NumAttrs()), h.preset...)}
	record.Attrs(func(attr slog.Attr) bool {
		line.fields = collect(line.fields, h.prefix, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line.header(ts, record.Level, strings.TrimSpace(record.Message))
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&line.sb, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	line.trailer()
	return h.out.write([]byte(line.sb.String()))
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append([]field(nil), h.preset...)
	for _, attr := range attrs {
		next.preset = collect(next.preset, h.prefix, attr)
	}
	return &next
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// collect appends attr to dst, expanding groups into dotted keys.
func collect(dst []field, prefix string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return append(dst, field{key: prefix + attr.Key, value: value})
	}
	inner := prefix
	if attr.Key != "" {
		inner = prefix + attr.Key + "."
	}
	for _, member := range value.Group() {
		dst = collect(dst, inner, member)
	}
	return dst
}

type lineBuilder struct {
	sb     strings.Builder
	fields []field
}

// header writes everything up to and including the message. The component
// and artifact_key fields are lifted into the subject and dropped from the
// trailing key/value list.
func (b *lineBuilder) header(ts time.Time, level slog.Level, msg string) {
	component := b.take(FieldComponent)
	artifact := b.take(FieldArtifactKey)

	b.sb.WriteString(ts.UTC().Format(time.RFC3339))
	b.sb.WriteByte(' ')
	b.sb.WriteString(levelName(level))
	b.sb.WriteByte(' ')

	switch {
	case component != "" && artifact != "":
		b.sb.WriteString(component + " [" + artifact + "]: ")
	case artifact != "":
		b.sb.WriteString("[" + artifact + "]: ")
	case component != "":
		b.sb.WriteString(component + ": ")
	}

	if msg == "" {
		msg = "(no message)"
	}
	b.sb.WriteString(msg)
}

func (b *lineBuilder) trailer() {
	for _, f := range b.fields {
		if f.key == "" {
			continue
		}
		b.sb.WriteByte(' ')
		b.sb.WriteString(f.key)
		b.sb.WriteByte('=')
		b.sb.WriteString(quoteIfNeeded(render(f.value)))
	}
	b.sb.WriteByte('\n')
}

// take removes every field named key and returns the first value seen.
func (b *lineBuilder) take(key string) string {
	var found string
	kept := b.fields[:0]
	for _, f := range b.fields {
		if f.key != key {
			kept = append(kept, f)
			continue
		}
		if found == "" {
			found = strings.TrimSpace(render(f.value))
		}
	}
	b.fields = kept
	return found
}

func render(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARN"
	}
	return "ERROR"
}
