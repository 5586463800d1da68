package logging

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Sinks describes where records go.
type Sinks struct {
	// File receives text records. Nil writes to stdout instead.
	File  io.Writer
	Level string
	// Gelf receives JSON records when non-nil.
	Gelf io.Writer
	// GelfLevel filters the GELF sink. Empty follows Level.
	GelfLevel string
	// Service is attached to GELF records for stream routing.
	Service string
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// RFC3339 UTC timestamps
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// newSinkHandler builds the text sink and the optional GELF sink.
func newSinkHandler(s Sinks, stdout io.Writer) *MultiHandler {
	out := s.File
	if out == nil {
		out = stdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, handlerOptions(parseLevel(s.Level)))}

	if s.Gelf != nil {
		level := s.GelfLevel
		if level == "" {
			level = s.Level
		}
		var gelf slog.Handler = slog.NewJSONHandler(s.Gelf, handlerOptions(parseLevel(level)))
		if s.Service != "" {
			gelf = gelf.WithAttrs([]slog.Attr{slog.String("service", s.Service)})
		}
		handlers = append(handlers, gelf)
	}
	return NewMultiHandler(handlers...)
}

// MultiHandler fans each record out to the file or console handler
// and the optional GELF handler.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler creates a handler that writes to all provided handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	valid := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			valid = append(valid, h)
		}
	}
	return &MultiHandler{handlers: valid}
}

// Enabled returns true if any handler is enabled for the given level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all handlers.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			// A failing sink must not starve the others.
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

// WithAttrs returns a new MultiHandler with the given attributes added to all handlers.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: handlers}
}

// WithGroup returns a new MultiHandler with the given group added to all handlers.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: handlers}
}
