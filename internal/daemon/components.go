package daemon

import (
	"errors"
	"fmt"
	"log/slog"

	"radiodigest/internal/blocks"
	"radiodigest/internal/config"
	"radiodigest/internal/coordination"
	"radiodigest/internal/digest"
	"radiodigest/internal/mailer"
	"radiodigest/internal/notifications"
	"radiodigest/internal/scheduler"
	"radiodigest/internal/services/llm"
	"radiodigest/internal/services/transcribe"
	"radiodigest/internal/store"
	"radiodigest/internal/workflow"
)

// Components holds every wired pipeline collaborator for one process.
type Components struct {
	Switch    *coordination.Switch
	Detector  *digest.Detector
	Tracker   *blocks.Tracker
	Builder   *digest.Builder
	Sender    *digest.Sender
	Sweeper   *digest.Sweeper
	Manager   *workflow.Manager
	Scheduler *scheduler.Scheduler
	Notifier  notifications.Service
}

// Option overrides an external collaborator, mainly for tests.
type Option func(*buildOptions)

type buildOptions struct {
	transcriber transcribe.Transcriber
	summarizer  llm.Summarizer
	mail        mailer.Sender
	notifier    notifications.Service
}

// WithTranscriber replaces the HTTP speech-to-text client.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(o *buildOptions) { o.transcriber = t }
}

// WithSummarizer replaces the LLM summarizer.
func WithSummarizer(s llm.Summarizer) Option {
	return func(o *buildOptions) { o.summarizer = s }
}

// WithMailer replaces the SMTP sender.
func WithMailer(m mailer.Sender) Option {
	return func(o *buildOptions) { o.mail = m }
}

// WithNotifier replaces the ntfy operator channel.
func WithNotifier(n notifications.Service) Option {
	return func(o *buildOptions) { o.notifier = n }
}

// Build wires the store, the authority switch, the block tracker, the digest
// engine, and the workflow manager. The switch is parsed once here and shared by
// every trigger site.
func Build(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Components, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}

	sw, err := coordination.NewSwitch(cfg.Coordination.Authority)
	if err != nil {
		return nil, fmt.Errorf("coordination.authority: %w", err)
	}
	notifier := options.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	transcriber := options.transcriber
	if transcriber == nil {
		client, err := transcribe.NewClient(transcribe.Config{
			APIKey:            cfg.Transcription.APIKey,
			BaseURL:           cfg.Transcription.BaseURL,
			Models:            cfg.Transcription.Models,
			Language:          cfg.Transcription.Language,
			TimeoutSeconds:    cfg.Transcription.TimeoutSeconds,
			RequestsPerMinute: cfg.Transcription.RequestsPerMinute,
		})
		if err != nil {
			return nil, fmt.Errorf("speech-to-text client: %w", err)
		}
		transcriber = client
	}
	summarizer := options.summarizer
	if summarizer == nil {
		summarizer = llm.NewSummarizer(llm.NewClient(llm.Config{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Models:            cfg.LLM.Models,
			Referer:           cfg.LLM.Referer,
			Title:             cfg.LLM.Title,
			TimeoutSeconds:    cfg.LLM.TimeoutSeconds,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		}))
	}
	mail := options.mail
	if mail == nil {
		sender, err := mailer.New(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("smtp sender: %w", err)
		}
		mail = sender
	}

	detector := digest.NewDetector(cfg, st, sw, logger)
	tracker := blocks.NewTracker(cfg, st, sw, detector, logger)
	builder := digest.NewBuilder(cfg, st, detector, summarizer, logger)
	sender := digest.NewSender(cfg, st, mail, notifier, logger)
	sweeper := digest.NewSweeper(cfg, st, notifier, logger)

	manager := workflow.NewManager(cfg, st, logger, notifier)
	manager.Register(store.TaskTranscribe, blocks.NewTranscribeHandler(cfg, st, tracker, transcriber, logger))
	manager.Register(store.TaskSummarize, blocks.NewSummarizeHandler(cfg, st, tracker, summarizer, logger))
	manager.Register(store.TaskCreateDigest, builder)
	manager.Register(store.TaskSendDigest, sender)
	manager.OnExhausted(tracker.FailExhausted)

	sched, err := scheduler.New(cfg, sw, detector, sweeper, logger)
	if err != nil {
		return nil, err
	}

	return &Components{
		Switch:    sw,
		Detector:  detector,
		Tracker:   tracker,
		Builder:   builder,
		Sender:    sender,
		Sweeper:   sweeper,
		Manager:   manager,
		Scheduler: sched,
		Notifier:  notifier,
	}, nil
}
