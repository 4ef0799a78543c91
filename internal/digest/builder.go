package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/services"
	"radiodigest/internal/services/llm"
	"radiodigest/internal/services/transcribe"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
)

// maxTranscriptChars bounds the transcript text substituted for a missing block summary.
const maxTranscriptChars = 12000

// Builder handles CREATE_DIGEST tasks.
type Builder struct {
	cfg        *config.Config
	store      *store.Store
	detector   *Detector
	summarizer llm.Summarizer
	logger     *slog.Logger
}

// NewBuilder constructs the digest creation handler.
func NewBuilder(cfg *config.Config, st *store.Store, detector *Detector, summarizer llm.Summarizer, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:        cfg,
		store:      st,
		detector:   detector,
		summarizer: summarizer,
		logger:     logging.NewComponentLogger(logger, "digest-builder"),
	}
}

// HealthCheck reports whether a summarizer is wired.
func (b *Builder) HealthCheck(context.Context) stage.Health {
	if b.summarizer == nil {
		return stage.Unhealthy("digest-builder", "summarizer not configured")
	}
	return stage.Healthy("digest-builder")
}

// Execute claims the unit, aggregates its completed blocks, and publishes the digest
// with a SEND_DIGEST follow-on in the same transaction.
func (b *Builder) Execute(ctx context.Context, task *store.Task) stage.Outcome {
	unit := task.Unit
	logger := logging.WithContext(ctx, b.logger).With(logging.Args(logging.Unit(unit.Program, unit.Date)...)...)

	program, ok := b.cfg.Program(unit.Program)
	if !ok {
		return stage.Permanent(services.Wrap(services.ErrValidation, "digest", "build", fmt.Sprintf("unknown program %q", unit.Program), nil))
	}

	eval, err := b.detector.Evaluate(ctx, unit)
	if err != nil {
		return stage.Classify(err)
	}
	if !eval.Eligible {
		logger.Info("digest build skipped",
			logging.String(logging.FieldDecisionType, "digest_eligibility"),
			logging.String("decision_result", "deferred"),
			logging.String("decision_reason", eval.Reason),
		)
		return stage.Skip("unit not eligible: " + eval.Reason)
	}

	token, outcome, owned := b.claim(ctx, logger, task)
	if !owned {
		return outcome
	}

	content, err := b.aggregate(ctx, program, unit)
	if err != nil {
		return b.abandon(ctx, logger, task, token, err)
	}

	send := store.TaskSpec{Type: store.TaskSendDigest, Unit: unit}
	if err := b.store.PublishDigest(ctx, unit, token, content, &send); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			logger.Info("digest claim lost before publish",
				logging.String(logging.FieldEventType, "claim_lost"),
				logging.String("claim_token", token),
			)
			return stage.Skip("digest claim lost before publish")
		}
		return b.abandon(ctx, logger, task, token, err)
	}
	logger.Info("digest published",
		logging.String(logging.FieldEventType, "digest_ready"),
		logging.Int("blocks", content.BlockCount),
		logging.Int("participants", content.Participants),
		logging.String("format", content.Format),
	)
	return stage.Succeed()
}

// claim establishes ownership of the unit. A task handed over by the sweep resumes its
// token; when that token was superseded the task falls back to a fresh claim, which
// loses against any existing row.
func (b *Builder) claim(ctx context.Context, logger *slog.Logger, task *store.Task) (string, stage.Outcome, bool) {
	unit := task.Unit
	if task.ClaimToken != "" {
		resumed, err := b.store.ResumeDigestClaim(ctx, unit, task.ClaimToken)
		if err != nil {
			return "", stage.Transient(err), false
		}
		if resumed {
			logger.Info("digest claim resumed", logging.String("claim_token", task.ClaimToken))
			return task.ClaimToken, stage.Outcome{}, true
		}
	}
	claim, err := b.store.ClaimDigest(ctx, unit)
	if err != nil {
		return "", stage.Transient(err), false
	}
	if !claim.Claimed {
		status := "unknown"
		if claim.Existing != nil {
			status = string(claim.Existing.Status)
		}
		logger.Info("digest claim lost",
			logging.String(logging.FieldEventType, "claim_lost"),
			logging.String("existing_status", status),
		)
		return "", stage.Skip("digest already claimed (" + status + ")"), false
	}
	return claim.Token, stage.Outcome{}, true
}

func (b *Builder) aggregate(ctx context.Context, program config.Program, unit store.Unit) (store.DigestContent, error) {
	blocks, err := b.store.CompletedBlocks(ctx, unit)
	if err != nil {
		return store.DigestContent{}, err
	}
	if len(blocks) == 0 {
		return store.DigestContent{}, services.Wrap(services.ErrValidation, "digest", "aggregate", "no completed blocks", nil)
	}
	req := llm.DigestRequest{
		ProgramName: ProgramTitle(program),
		Date:        unit.Date,
		Blocks:      make([]llm.BlockDigest, 0, len(blocks)),
	}
	participants := 0
	for _, block := range blocks {
		participants += block.Participants
		text := strings.TrimSpace(block.Summary)
		if text == "" {
			text, err = transcriptExcerpt(block)
			if err != nil {
				return store.DigestContent{}, err
			}
		}
		req.Blocks = append(req.Blocks, llm.BlockDigest{Code: block.Code, Summary: text})
	}
	summary, err := b.summarizer.SummarizeDigest(ctx, req)
	if err != nil {
		return store.DigestContent{}, err
	}
	if summary.Participants > participants {
		participants = summary.Participants
	}
	return store.DigestContent{
		Body:         summary.Text,
		Format:       summary.Format,
		BlockCount:   len(blocks),
		Participants: participants,
	}, nil
}

// abandon releases or fails the claim after an error. A retryable error with attempts
// remaining deletes the placeholder so the retry claims afresh; anything else marks the
// digest failed. Both writes outlive the task deadline.
func (b *Builder) abandon(ctx context.Context, logger *slog.Logger, task *store.Task, token string, cause error) stage.Outcome {
	outcome := stage.Classify(cause)
	unit := task.Unit
	ctx = context.WithoutCancel(ctx)
	if outcome.Kind == stage.TransientFailure && !task.FinalAttempt() {
		released, err := b.store.ReleaseDigestClaim(ctx, unit, token)
		if err != nil {
			logger.Warn("digest claim release failed",
				logging.String(logging.FieldEventType, "claim_release_failed"),
				logging.String(logging.FieldImpact, "placeholder stays until the orphan sweep"),
				logging.Error(err),
			)
		} else if !released {
			logger.Info("digest claim already superseded", logging.String(logging.FieldEventType, "claim_lost"))
		}
		return outcome
	}
	if _, err := b.store.FailDigest(ctx, unit, token, cause.Error()); err != nil {
		logger.Warn("mark digest failed",
			logging.String(logging.FieldEventType, "digest_fail_write_failed"),
			logging.String(logging.FieldErrorHint, "run 'radiodigest digest show' to inspect the row"),
			logging.Error(err),
		)
	}
	if outcome.Kind == stage.TransientFailure {
		return stage.Permanent(cause)
	}
	return outcome
}

func transcriptExcerpt(block *store.Block) (string, error) {
	if strings.TrimSpace(block.TranscriptPath) == "" {
		return "", services.Wrap(services.ErrValidation, "digest", "aggregate", fmt.Sprintf("block %s has neither summary nor transcript", block.Code), nil)
	}
	transcript, err := transcribe.Load(block.TranscriptPath)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "digest", "aggregate", "block "+block.Code, err)
	}
	text := strings.TrimSpace(transcript.Text)
	if len(text) > maxTranscriptChars {
		text = text[:maxTranscriptChars]
	}
	return text, nil
}
