package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePrograms()
	c.Coordination.Authority = strings.ToLower(strings.TrimSpace(c.Coordination.Authority))
	c.normalizeScheduler()
	c.normalizeTranscription()
	c.normalizeLLM()
	c.normalizeSMTP()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		c.Paths.DatabasePath = filepath.Join(c.Paths.DataDir, defaultDatabaseName)
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	return nil
}

func (c *Config) normalizePrograms() {
	for i := range c.Programs {
		program := &c.Programs[i]
		program.Key = strings.TrimSpace(program.Key)
		program.Name = strings.TrimSpace(program.Name)
		if program.Name == "" {
			program.Name = program.Key
		}
		program.Blocks = trimList(program.Blocks, false)
		program.Recipients = trimList(program.Recipients, true)
		program.DigestSchedule = strings.TrimSpace(program.DigestSchedule)
		if program.DigestSchedule == "" {
			program.DigestSchedule = defaultDigestSchedule
		}
	}
}

func (c *Config) normalizeScheduler() {
	c.Scheduler.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = defaultSchedulerTimezone
	}
	if c.Scheduler.LookbackDays < 0 {
		c.Scheduler.LookbackDays = 0
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("RADIODIGEST_STT_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		}
	}
	c.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcription.BaseURL), "/")
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	c.Transcription.Models = trimList(c.Transcription.Models, false)
	if len(c.Transcription.Models) == 0 {
		c.Transcription.Models = []string{defaultTranscriptionModel}
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeout
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("RADIODIGEST_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Models = trimList(c.LLM.Models, false)
	if len(c.LLM.Models) == 0 {
		c.LLM.Models = []string{defaultLLMModel}
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeSMTP() {
	c.SMTP.Host = strings.TrimSpace(c.SMTP.Host)
	c.SMTP.Username = strings.TrimSpace(c.SMTP.Username)
	c.SMTP.From = strings.TrimSpace(c.SMTP.From)
	if c.SMTP.Password == "" {
		if value, ok := os.LookupEnv("RADIODIGEST_SMTP_PASSWORD"); ok {
			c.SMTP.Password = value
		}
	}
	c.SMTP.TLSPolicy = strings.ToLower(strings.TrimSpace(c.SMTP.TLSPolicy))
	if c.SMTP.TLSPolicy == "" {
		c.SMTP.TLSPolicy = defaultSMTPTLSPolicy
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = defaultSMTPPort
	}
	if c.SMTP.TimeoutSeconds <= 0 {
		c.SMTP.TimeoutSeconds = defaultSMTPTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// trimList drops blank and duplicate entries while keeping declaration order.
func trimList(values []string, lower bool) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
