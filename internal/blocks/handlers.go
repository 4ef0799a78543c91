package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"radiodigest/internal/config"
	"radiodigest/internal/digest"
	"radiodigest/internal/logging"
	"radiodigest/internal/services"
	"radiodigest/internal/services/llm"
	"radiodigest/internal/services/transcribe"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
)

// TranscribeHandler runs speech-to-text for TRANSCRIBE tasks.
type TranscribeHandler struct {
	cfg         *config.Config
	store       *store.Store
	tracker     *Tracker
	transcriber transcribe.Transcriber
	logger      *slog.Logger
}

// NewTranscribeHandler constructs the TRANSCRIBE handler.
func NewTranscribeHandler(cfg *config.Config, st *store.Store, tracker *Tracker, transcriber transcribe.Transcriber, logger *slog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		cfg:         cfg,
		store:       st,
		tracker:     tracker,
		transcriber: transcriber,
		logger:      logging.NewComponentLogger(logger, "transcribe"),
	}
}

// HealthCheck reports whether a transcriber is wired.
func (h *TranscribeHandler) HealthCheck(context.Context) stage.Health {
	if h.transcriber == nil {
		return stage.Unhealthy("transcribe", "transcriber not configured")
	}
	return stage.Healthy("transcribe")
}

// Execute transcribes the block audio and stores the transcript document.
func (h *TranscribeHandler) Execute(ctx context.Context, task *store.Task) stage.Outcome {
	logger := logging.WithContext(ctx, h.logger)
	block, outcome, proceed := enterStage(ctx, h.store, h.tracker, task, store.BlockRecorded, store.BlockTranscribing)
	if !proceed {
		if outcome.Note != "" {
			logger.Info("transcription skipped", logging.String("decision_reason", outcome.Note))
		}
		return outcome
	}
	if strings.TrimSpace(block.AudioPath) == "" {
		return failBlock(ctx, h.tracker, task, block, "transcribe",
			services.Wrap(services.ErrValidation, "transcribe", "audio", "block has no audio path", nil))
	}

	transcript, err := h.transcriber.Transcribe(ctx, block.AudioPath)
	if err != nil {
		return failBlock(ctx, h.tracker, task, block, "transcribe", err)
	}
	path := transcribe.DocumentPath(h.cfg.TranscriptDir(), block.Program, block.Date, block.Code)
	if err := transcribe.Save(path, transcript); err != nil {
		return failBlock(ctx, h.tracker, task, block, "transcribe", err)
	}

	speakers := transcript.Speakers()
	if _, err := h.tracker.Transition(ctx, block.ID, store.BlockTranscribed, store.BlockUpdate{
		TranscriptPath: path,
		Participants:   &speakers,
	}); err != nil {
		return transitionOutcome(err)
	}
	logger.Info("block transcribed",
		logging.Int64(logging.FieldBlockID, block.ID),
		logging.String("transcript_path", path),
		logging.Int("segments", len(transcript.Segments)),
		logging.String("model", transcript.Model),
	)
	return stage.Succeed()
}

// SummarizeHandler runs per-block summarization for SUMMARIZE tasks.
type SummarizeHandler struct {
	cfg        *config.Config
	store      *store.Store
	tracker    *Tracker
	summarizer llm.Summarizer
	logger     *slog.Logger
}

// NewSummarizeHandler constructs the SUMMARIZE handler.
func NewSummarizeHandler(cfg *config.Config, st *store.Store, tracker *Tracker, summarizer llm.Summarizer, logger *slog.Logger) *SummarizeHandler {
	return &SummarizeHandler{
		cfg:        cfg,
		store:      st,
		tracker:    tracker,
		summarizer: summarizer,
		logger:     logging.NewComponentLogger(logger, "summarize"),
	}
}

// HealthCheck reports whether a summarizer is wired.
func (h *SummarizeHandler) HealthCheck(context.Context) stage.Health {
	if h.summarizer == nil {
		return stage.Unhealthy("summarize", "summarizer not configured")
	}
	return stage.Healthy("summarize")
}

// Execute summarizes the block transcript and completes the block. A block that is
// already completed only re-runs the completion trigger.
func (h *SummarizeHandler) Execute(ctx context.Context, task *store.Task) stage.Outcome {
	logger := logging.WithContext(ctx, h.logger)
	block, outcome, proceed := enterStage(ctx, h.store, h.tracker, task, store.BlockTranscribed, store.BlockSummarizing)
	if !proceed {
		if block != nil && block.Status == store.BlockCompleted {
			h.tracker.CompletionTrigger(ctx, block.Unit())
		}
		if outcome.Note != "" {
			logger.Info("summarization skipped", logging.String("decision_reason", outcome.Note))
		}
		return outcome
	}

	program, ok := h.cfg.Program(block.Program)
	if !ok {
		return failBlock(ctx, h.tracker, task, block, "summarize",
			services.Wrap(services.ErrValidation, "summarize", "program", fmt.Sprintf("unknown program %q", block.Program), nil))
	}
	transcript, err := transcribe.Load(block.TranscriptPath)
	if err != nil {
		return failBlock(ctx, h.tracker, task, block, "summarize",
			services.Wrap(services.ErrNotFound, "summarize", "transcript", block.TranscriptPath, err))
	}

	summary, err := h.summarizer.SummarizeBlock(ctx, llm.BlockRequest{
		ProgramName: digest.ProgramTitle(program),
		BlockCode:   block.Code,
		Date:        block.Date,
		Transcript:  transcript.Text,
		Speakers:    transcript.Speakers(),
	})
	if err != nil {
		return failBlock(ctx, h.tracker, task, block, "summarize", err)
	}

	participants := summary.Participants
	if _, err := h.tracker.Transition(ctx, block.ID, store.BlockCompleted, store.BlockUpdate{
		Summary:       summary.Text,
		SummaryFormat: summary.Format,
		Participants:  &participants,
	}); err != nil {
		return transitionOutcome(err)
	}
	logger.Info("block summarized",
		logging.Int64(logging.FieldBlockID, block.ID),
		logging.String("format", summary.Format),
		logging.String("model", summary.Model),
		logging.Int("participants", participants),
	)
	return stage.Succeed()
}

// enterStage loads the task's block and moves it from ready into running. A block
// already running the stage continues; a block past the stage is a no-op success.
func enterStage(ctx context.Context, st *store.Store, tracker *Tracker, task *store.Task, ready, running store.BlockStatus) (*store.Block, stage.Outcome, bool) {
	block, err := st.GetBlock(ctx, task.BlockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, stage.Permanent(services.Wrap(services.ErrNotFound, "blocks", "load", fmt.Sprintf("block %d", task.BlockID), err)), false
		}
		return nil, stage.Transient(err), false
	}
	switch {
	case block.Status == running:
		return block, stage.Outcome{}, true
	case block.Status == ready:
		moved, err := tracker.Transition(ctx, block.ID, running, store.BlockUpdate{})
		if err != nil {
			return block, transitionOutcome(err), false
		}
		return moved, stage.Outcome{}, true
	case block.Status == store.BlockFailed:
		return block, stage.Skip("block is failed"), false
	case block.Status.Rank() > running.Rank():
		return block, stage.Skip(fmt.Sprintf("block already %s", block.Status)), false
	default:
		return block, stage.Permanent(services.Wrap(services.ErrValidation, "blocks", "enter stage",
			fmt.Sprintf("block is %s, want %s", block.Status, ready), nil)), false
	}
}

// failBlock classifies err and fails the block when the task will not be retried.
// The write runs detached from ctx so a final attempt ended by its deadline still
// leaves the block failed and retryable.
func failBlock(ctx context.Context, tracker *Tracker, task *store.Task, block *store.Block, stageName string, err error) stage.Outcome {
	outcome := stage.Classify(err)
	if outcome.Kind == stage.PermanentFailure || task.FinalAttempt() {
		if _, failErr := tracker.Fail(context.WithoutCancel(ctx), block.ID, stageName, err); failErr != nil {
			tracker.logger.Warn("fail block",
				logging.Int64(logging.FieldBlockID, block.ID),
				logging.String(logging.FieldEventType, "block_fail_write_failed"),
				logging.Error(failErr),
			)
		}
	}
	return outcome
}

// transitionOutcome maps a rejected transition to a skip, since another writer moved
// the block first, and any other error to its classification.
func transitionOutcome(err error) stage.Outcome {
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		return stage.Skip(invalid.Error())
	}
	return stage.Classify(err)
}
