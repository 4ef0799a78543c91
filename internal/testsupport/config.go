package testsupport

import (
	"path/filepath"
	"testing"

	"radiodigest/internal/config"
)

// TestProgram is the program key seeded by NewConfig.
const TestProgram = "morning-show"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test, one
// program with four blocks, and intervals short enough for tests.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DatabasePath = filepath.Join(base, "data", "radiodigest.db")
	cfgVal.Programs = []config.Program{{
		Key:            TestProgram,
		Name:           "Morning Show",
		Blocks:         []string{"A", "B", "C", "D"},
		Recipients:     []string{"desk@example.com"},
		DigestSchedule: "0 12 * * *",
	}}
	cfgVal.Workflow.Workers = 2
	cfgVal.Workflow.PollInterval = 1
	cfgVal.Workflow.MaxAttempts = 3
	cfgVal.Workflow.RetryBackoff = 0
	cfgVal.Workflow.RetryBackoffMax = 0
	cfgVal.LLM.APIKey = "test"
	cfgVal.Transcription.APIKey = "test"
	cfgVal.LLM.RequestsPerMinute = 0
	cfgVal.Transcription.RequestsPerMinute = 0
	cfgVal.SMTP.Host = "127.0.0.1"
	cfgVal.SMTP.Port = 2525
	cfgVal.SMTP.From = "digest@example.com"
	cfgVal.SMTP.TLSPolicy = "none"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAuthority sets the digest trigger authority.
func WithAuthority(authority string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Coordination.Authority = authority
	}
}

// WithBlocks replaces the block codes of the seeded program.
func WithBlocks(codes ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Programs[0].Blocks = append([]string(nil), codes...)
	}
}

// WithServiceURLs points speech-to-text and the LLM at test servers.
func WithServiceURLs(transcriptionURL, llmURL string) ConfigOption {
	return func(b *configBuilder) {
		if transcriptionURL != "" {
			b.cfg.Transcription.BaseURL = transcriptionURL
		}
		if llmURL != "" {
			b.cfg.LLM.BaseURL = llmURL
		}
	}
}

// WithNtfyTopic sets the ntfy topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
