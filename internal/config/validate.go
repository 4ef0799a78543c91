package config

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"radiodigest/internal/coordination"
)

var programKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCoordination(); err != nil {
		return err
	}
	if err := c.validatePrograms(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateDigest(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateSMTP(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCoordination() error {
	if _, err := coordination.ParseAuthority(c.Coordination.Authority); err != nil {
		return fmt.Errorf("coordination.authority: %w", err)
	}
	return nil
}

func (c *Config) validatePrograms() error {
	if len(c.Programs) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("at least one [[programs]] entry is required. Edit %s (create with 'radiodigest config init')", defaultPath)
	}
	seen := make(map[string]struct{}, len(c.Programs))
	for i, program := range c.Programs {
		label := fmt.Sprintf("programs[%d]", i)
		if program.Key == "" {
			return fmt.Errorf("%s.key must be set", label)
		}
		if !programKeyPattern.MatchString(program.Key) {
			return fmt.Errorf("%s.key %q must contain only lowercase letters, digits, '-' or '_'", label, program.Key)
		}
		if _, dup := seen[program.Key]; dup {
			return fmt.Errorf("%s.key %q is declared more than once", label, program.Key)
		}
		seen[program.Key] = struct{}{}
		if len(program.Blocks) == 0 {
			return fmt.Errorf("%s.blocks must list at least one block code", label)
		}
		if len(program.Recipients) == 0 {
			return fmt.Errorf("%s.recipients must list at least one address", label)
		}
		for _, recipient := range program.Recipients {
			if _, err := mail.ParseAddress(recipient); err != nil {
				return fmt.Errorf("%s.recipients: invalid address %q: %w", label, recipient, err)
			}
		}
		if _, err := cron.ParseStandard(program.DigestSchedule); err != nil {
			return fmt.Errorf("%s.digest_schedule %q: %w", label, program.DigestSchedule, err)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.task_timeout":         c.Workflow.TaskTimeout,
		"workflow.max_attempts":         c.Workflow.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.LeaseTimeout <= 0 {
		return errors.New("workflow.lease_timeout must be positive")
	}
	if c.Workflow.LeaseTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.RetryBackoff < 0 {
		return errors.New("workflow.retry_backoff must be >= 0")
	}
	if c.Workflow.RetryBackoffMax < c.Workflow.RetryBackoff {
		return errors.New("workflow.retry_backoff_max must be >= workflow.retry_backoff")
	}
	return nil
}

func (c *Config) validateDigest() error {
	if err := ensurePositiveMap(map[string]int{
		"digest.sweep_interval":       c.Digest.SweepInterval,
		"digest.orphan_age":           c.Digest.OrphanAge,
		"digest.send_validity_window": c.Digest.SendValidityWindow,
	}); err != nil {
		return err
	}
	if c.Digest.MaxRebuilds < 0 {
		return errors.New("digest.max_rebuilds must be >= 0")
	}
	if c.Digest.OrphanAge <= c.Workflow.TaskTimeout {
		return errors.New("digest.orphan_age must be greater than workflow.task_timeout")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.Transcription.RequestsPerMinute < 0 {
		return errors.New("transcription.requests_per_minute must be >= 0")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return errors.New("llm.requests_per_minute must be >= 0")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateSMTP() error {
	if c.SMTP.Host == "" {
		return errors.New("smtp.host must be set")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return errors.New("smtp.port must be between 1 and 65535")
	}
	if c.SMTP.From == "" {
		return errors.New("smtp.from must be set")
	}
	if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
		return fmt.Errorf("smtp.from: invalid address %q: %w", c.SMTP.From, err)
	}
	switch c.SMTP.TLSPolicy {
	case "mandatory", "opportunistic", "none":
	default:
		return fmt.Errorf("smtp.tls_policy %q must be one of mandatory, opportunistic, none", c.SMTP.TLSPolicy)
	}
	if c.SMTP.Password != "" && strings.TrimSpace(c.SMTP.Username) == "" {
		return errors.New("smtp.username must be set when smtp.password is provided")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
