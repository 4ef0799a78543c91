package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/services"
)

func TestNewFromConfigWritesJSONLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("pipeline started", logging.String("role", "worker"), logging.Duration("lease", 1500*time.Millisecond))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("log file should hold JSON records: %v (%q)", err, content)
	}
	if record["msg"] != "pipeline started" || record["role"] != "worker" || record["level"] != "info" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["lease_seconds"] != 1.5 {
		t.Fatalf("expected durations in seconds, got %v", record)
	}
	if _, ok := record["ts"].(string); !ok {
		t.Fatalf("expected ts timestamp, got %v", record)
	}
}

func TestConsoleLoggerRendersTaskSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "workflow")
	logger.Info("task claimed",
		logging.Int64(logging.FieldTaskID, 12),
		logging.String(logging.FieldTaskType, "TRANSCRIBE"),
		logging.String(logging.FieldProgram, "morning-show"),
		logging.String(logging.FieldReportDate, "2026-10-14"),
		logging.String(logging.FieldEventType, "task_claimed"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	for _, fragment := range []string{"INFO [workflow]", "Task #12 (TRANSCRIBE)", "morning-show/2026-10-14", "task claimed", "Event: task_claimed"} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("expected %q in console output %q", fragment, text)
		}
	}
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", text)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller", logging.String("claim_token", "abc"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
	if !strings.Contains(string(content), "claim_token: abc") {
		t.Fatalf("expected debug output to list every attribute, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type captureHandler struct {
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool {
		h.attrs = append(h.attrs, a)
		return true
	})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.attrs = append(h.attrs, attrs...)
	return h
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTaskID(ctx, 123)
	ctx = services.WithTaskType(ctx, "SEND_DIGEST")
	ctx = services.WithRequestID(ctx, "req-xyz")

	handler := &captureHandler{}
	logging.WithContext(ctx, slog.New(handler)).Info("contextual log")

	got := map[string]string{}
	for _, attr := range handler.attrs {
		got[attr.Key] = attr.Value.String()
	}
	if got[logging.FieldTaskID] != "123" {
		t.Fatalf("unexpected task id: %v", got)
	}
	if got[logging.FieldTaskType] != "SEND_DIGEST" {
		t.Fatalf("unexpected task type: %v", got)
	}
	if got[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("unexpected correlation id: %v", got)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	handler := &captureHandler{}
	logging.WarnWithContext(slog.New(handler), "lease lost", "lease_lost")

	keys := map[string]bool{}
	for _, attr := range handler.attrs {
		keys[attr.Key] = true
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if !keys[key] {
			t.Fatalf("expected %s to be injected, got %v", key, handler.attrs)
		}
	}
}

func TestErrorWithContextKeepsCallerFields(t *testing.T) {
	handler := &captureHandler{}
	logging.ErrorWithContext(slog.New(handler), "record failed", "send_record_failed",
		logging.String(logging.FieldErrorHint, "check the database"))

	got := map[string]string{}
	count := 0
	for _, attr := range handler.attrs {
		got[attr.Key] = attr.Value.String()
		if attr.Key == logging.FieldErrorHint {
			count++
		}
	}
	if got[logging.FieldEventType] != "send_record_failed" {
		t.Fatalf("expected event type to be injected, got %v", got)
	}
	if got[logging.FieldErrorHint] != "check the database" || count != 1 {
		t.Fatalf("caller hint should win without duplication, got %v", handler.attrs)
	}
	if _, ok := got[logging.FieldImpact]; ok {
		t.Fatalf("errors carry no default impact, got %v", got)
	}
}

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "radiodigest-2026-01-01.log")
	fresh := filepath.Join(dir, "radiodigest-2026-10-13.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -45)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(other, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 30, logging.RetentionTarget{Dir: dir, Pattern: "radiodigest*.log*"})
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}
