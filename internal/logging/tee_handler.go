package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler copies each record to every sink whose level accepts it. The console
// sink and the log file keep independent levels.
type teeHandler struct {
	sinks []slog.Handler
}

func newTeeHandler(sinks ...slog.Handler) slog.Handler {
	var live []slog.Handler
	for _, sink := range sinks {
		if sink != nil {
			live = append(live, sink)
		}
	}
	switch len(live) {
	case 0:
		return NoopHandler{}
	case 1:
		return live[0]
	default:
		return &teeHandler{sinks: live}
	}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range h.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every enabled sink and reports all sink errors together, so a full
// disk on the log file never hides console output.
func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range h.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(sink slog.Handler) slog.Handler { return sink.WithAttrs(attrs) })
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return h.each(func(sink slog.Handler) slog.Handler { return sink.WithGroup(name) })
}

func (h *teeHandler) each(derive func(slog.Handler) slog.Handler) slog.Handler {
	next := &teeHandler{sinks: make([]slog.Handler, len(h.sinks))}
	for i, sink := range h.sinks {
		next.sinks[i] = derive(sink)
	}
	return next
}
