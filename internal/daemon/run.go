package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/preflight"
	"radiodigest/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	Role     Role
}

// Run starts the radiodigest runtime loop and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if strings.TrimSpace(opts.LogLevel) != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTargets(cfg)...)

	role := opts.Role
	if role == "" {
		role = RoleAll
	}
	pidPath := filepath.Join(cfg.Paths.DataDir, fmt.Sprintf("radiodigest-%s.pid", role))
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	components, err := Build(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("wire components: %w", err)
	}
	d, err := New(cfg, st, logger, components, role)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logConfigSnapshot(logger, cfg, role)
	preflight.LogResults(logger, preflight.RunAll(signalCtx, cfg))

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration, store access, and the scheduler lock"),
			logging.String(logging.FieldImpact, "no tasks will be processed by this process"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("radiodigest daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, role Role) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("role", string(role)),
		logging.String("authority", cfg.Coordination.Authority),
		logging.Int("programs", len(cfg.Programs)),
		logging.String("program_keys", strings.Join(cfg.ProgramKeys(), ",")),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.Int("max_attempts", cfg.Workflow.MaxAttempts),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("stt_key_present", strings.TrimSpace(cfg.Transcription.APIKey) != ""),
		logging.String("smtp_host", cfg.SMTP.Host),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
