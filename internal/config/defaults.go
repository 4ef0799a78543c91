package config

import "radiodigest/internal/coordination"

const (
	defaultConfigPath            = "~/.config/radiodigest/config.toml"
	defaultDataDir               = "~/.local/share/radiodigest"
	defaultLogDir                = "~/.local/share/radiodigest/logs"
	defaultDatabaseName          = "radiodigest.db"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultWorkers               = 4
	defaultPollInterval          = 2
	defaultErrorRetryInterval    = 10
	defaultHeartbeatInterval     = 15
	defaultLeaseTimeout          = 120
	defaultTaskTimeout           = 900
	defaultMaxAttempts           = 5
	defaultRetryBackoff          = 30
	defaultRetryBackoffMax       = 900
	defaultSweepInterval         = 300
	defaultOrphanAge             = 1800
	defaultMaxRebuilds           = 3
	defaultSendValidityWindow    = 86400
	defaultSchedulerInterval     = 60
	defaultSchedulerTimezone     = "UTC"
	defaultLookbackDays          = 2
	defaultDigestSchedule        = "0 20 * * *"
	defaultTranscriptionBaseURL  = "https://api.openai.com/v1"
	defaultTranscriptionModel    = "whisper-1"
	defaultTranscriptionTimeout  = 600
	defaultLLMBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel              = "google/gemini-3-flash-preview"
	defaultLLMReferer            = "https://github.com/radiodigest/radiodigest"
	defaultLLMTitle              = "Radio Digest"
	defaultLLMTimeoutSeconds     = 120
	defaultRequestsPerMinute     = 30
	defaultSMTPPort              = 587
	defaultSMTPTLSPolicy         = "mandatory"
	defaultSMTPTimeoutSeconds    = 30
	defaultNotifyRequestTimeout  = 10
	defaultCoordinationAuthority = string(coordination.AuthorityBoth)
	defaultTranscriptionRate     = 20
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Coordination: Coordination{
			Authority: defaultCoordinationAuthority,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			LeaseTimeout:       defaultLeaseTimeout,
			TaskTimeout:        defaultTaskTimeout,
			MaxAttempts:        defaultMaxAttempts,
			RetryBackoff:       defaultRetryBackoff,
			RetryBackoffMax:    defaultRetryBackoffMax,
		},
		Digest: Digest{
			SweepInterval:      defaultSweepInterval,
			OrphanAge:          defaultOrphanAge,
			MaxRebuilds:        defaultMaxRebuilds,
			SendValidityWindow: defaultSendValidityWindow,
		},
		Scheduler: Scheduler{
			Interval:     defaultSchedulerInterval,
			Timezone:     defaultSchedulerTimezone,
			LookbackDays: defaultLookbackDays,
		},
		Transcription: Transcription{
			BaseURL:           defaultTranscriptionBaseURL,
			Models:            []string{defaultTranscriptionModel},
			TimeoutSeconds:    defaultTranscriptionTimeout,
			RequestsPerMinute: defaultTranscriptionRate,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Models:            []string{defaultLLMModel},
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		SMTP: SMTP{
			Port:           defaultSMTPPort,
			TLSPolicy:      defaultSMTPTLSPolicy,
			TimeoutSeconds: defaultSMTPTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Failures:       true,
			Orphans:        true,
			DigestSent:     false,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
