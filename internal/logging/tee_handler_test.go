package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewTeeHandlerCollapses(t *testing.T) {
	if _, ok := newTeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newTeeHandler(nil, inner, nil); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsPerSinkLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := newTeeHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee enabled for debug when one handler accepts it")
	}

	logger := slog.New(h).With("component", "test")
	logger.Debug("debug only")
	logger.Info("both")

	if strings.Contains(infoBuf.String(), "debug only") {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "debug only") || !strings.Contains(debugBuf.String(), "both") {
		t.Fatalf("debug handler missing records: %s", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"component":"test"`) {
		t.Fatalf("expected WithAttrs to propagate: %s", infoBuf.String())
	}
}

type failingSink struct {
	err error
}

func (failingSink) Enabled(context.Context, slog.Level) bool { return true }
func (s failingSink) Handle(context.Context, slog.Record) error { return s.err }
func (s failingSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s failingSink) WithGroup(string) slog.Handler { return s }

func TestTeeHandlerReportsEverySinkError(t *testing.T) {
	diskFull := errors.New("disk full")
	closed := errors.New("closed")
	var buf bytes.Buffer
	h := newTeeHandler(failingSink{err: diskFull}, slog.NewTextHandler(&buf, nil), failingSink{err: closed})

	err := slog.New(h).Handler().Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "block transcribed", 0))
	if !errors.Is(err, diskFull) || !errors.Is(err, closed) {
		t.Fatalf("expected both sink errors, got %v", err)
	}
	if !strings.Contains(buf.String(), "block transcribed") {
		t.Fatalf("healthy sink should still receive the record: %q", buf.String())
	}
}
