package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

// Program describes one radio program that produces a daily digest.
type Program struct {
	Key        string   `toml:"key"`
	Name       string   `toml:"name"`
	Blocks     []string `toml:"blocks"`
	Recipients []string `toml:"recipients"`
	// DigestSchedule is a five-field cron expression evaluated in the scheduler
	// time zone. The time trigger considers a reporting date due once the first
	// activation of the day has passed.
	DigestSchedule string `toml:"digest_schedule"`
}

// ExpectedBlocks returns how many blocks make up a complete reporting unit.
func (p Program) ExpectedBlocks() int {
	return len(p.Blocks)
}

// HasBlock reports whether code is one of the program's configured block codes.
func (p Program) HasBlock(code string) bool {
	code = strings.TrimSpace(code)
	for _, candidate := range p.Blocks {
		if candidate == code {
			return true
		}
	}
	return false
}

// Coordination selects which digest triggers are authoritative.
type Coordination struct {
	Authority string `toml:"authority"`
}

// Workflow contains worker pool and task lease settings.
type Workflow struct {
	Workers            int `toml:"workers"`
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	LeaseTimeout       int `toml:"lease_timeout"`
	TaskTimeout        int `toml:"task_timeout"`
	MaxAttempts        int `toml:"max_attempts"`
	RetryBackoff       int `toml:"retry_backoff"`
	RetryBackoffMax    int `toml:"retry_backoff_max"`
}

// Digest contains aggregation, orphan handling, and send de-duplication settings.
type Digest struct {
	SweepInterval      int `toml:"sweep_interval"`
	OrphanAge          int `toml:"orphan_age"`
	MaxRebuilds        int `toml:"max_rebuilds"`
	SendValidityWindow int `toml:"send_validity_window"`
}

// Scheduler contains settings for the time-based digest trigger.
type Scheduler struct {
	Interval     int    `toml:"interval"`
	Timezone     string `toml:"timezone"`
	LookbackDays int    `toml:"lookback_days"`
}

// Transcription contains speech-to-text connection settings.
type Transcription struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Models            []string `toml:"models"`
	Language          string   `toml:"language"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// LLM contains summarization connection settings.
type LLM struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Models            []string `toml:"models"`
	Referer           string   `toml:"referer"`
	Title             string   `toml:"title"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// SMTP contains outbound mail settings used for digest delivery.
type SMTP struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	From           string `toml:"from"`
	TLSPolicy      string `toml:"tls_policy"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy operator alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Failures       bool   `toml:"failures"`
	Orphans        bool   `toml:"orphans"`
	DigestSent     bool   `toml:"digest_sent"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for radiodigest.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and database locations
//   - Programs: radio programs, their block codes, and digest recipients
//   - Coordination: which digest trigger is authoritative
//   - Workflow: worker pool size, polling, leases, and retry ceilings
//   - Digest: orphan sweep cadence and send de-duplication window
//   - Scheduler: time trigger cadence and time zone
//   - Transcription: speech-to-text endpoint and model fallback chain
//   - LLM: summarization endpoint and model fallback chain
//   - SMTP: outbound mail transport
//   - Notifications: ntfy operator alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Programs      []Program     `toml:"programs"`
	Coordination  Coordination  `toml:"coordination"`
	Workflow      Workflow      `toml:"workflow"`
	Digest        Digest        `toml:"digest"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	SMTP          SMTP          `toml:"smtp"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("radiodigest.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.TranscriptDir()}
	if dbDir := filepath.Dir(c.Paths.DatabasePath); dbDir != "" && dbDir != "." {
		dirs = append(dirs, dbDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TranscriptDir returns the directory holding transcript documents.
func (c *Config) TranscriptDir() string {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.DataDir, "transcripts")
}

// SchedulerLockPath returns the lock file guarding the single scheduler role.
func (c *Config) SchedulerLockPath() string {
	return filepath.Join(c.Paths.DataDir, "scheduler.lock")
}

// Program returns the program registered under key.
func (c *Config) Program(key string) (Program, bool) {
	key = strings.TrimSpace(key)
	for _, program := range c.Programs {
		if program.Key == key {
			return program, true
		}
	}
	return Program{}, false
}

// ProgramKeys returns configured program keys in declaration order.
func (c *Config) ProgramKeys() []string {
	keys := make([]string, 0, len(c.Programs))
	for _, program := range c.Programs {
		keys = append(keys, program.Key)
	}
	return keys
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
