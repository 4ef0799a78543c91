package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"radiodigest/internal/config"
	"radiodigest/internal/coordination"
	"radiodigest/internal/digest"
	"radiodigest/internal/logging"
	"radiodigest/internal/services"
	"radiodigest/internal/store"
)

// transitionRetries bounds how often a lost compare-and-swap is re-read and re-validated.
const transitionRetries = 3

// Detector evaluates a reporting unit after one of its blocks completes.
type Detector interface {
	Check(ctx context.Context, unit store.Unit, trigger coordination.Trigger) (digest.Evaluation, error)
}

// Tracker records block status changes.
type Tracker struct {
	cfg      *config.Config
	store    *store.Store
	sw       *coordination.Switch
	detector Detector
	logger   *slog.Logger
}

// NewTracker constructs a Tracker. detector may be nil, which disables the
// completion trigger.
func NewTracker(cfg *config.Config, st *store.Store, sw *coordination.Switch, detector Detector, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:      cfg,
		store:    st,
		sw:       sw,
		detector: detector,
		logger:   logging.NewComponentLogger(logger, "blocks"),
	}
}

// Create registers a block in the scheduled status.
func (t *Tracker) Create(ctx context.Context, programKey, code, date string) (*store.Block, error) {
	program, ok := t.cfg.Program(programKey)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "blocks", "create", fmt.Sprintf("unknown program %q", programKey), nil)
	}
	if !program.HasBlock(code) {
		return nil, services.Wrap(services.ErrValidation, "blocks", "create",
			fmt.Sprintf("block code %q is not configured for %s", code, program.Key), nil)
	}
	if _, err := store.ParseDate(date); err != nil {
		return nil, services.Wrap(services.ErrValidation, "blocks", "create", "", err)
	}
	block, err := t.store.CreateBlock(ctx, store.Unit{Program: program.Key, Date: date}, code)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &DuplicateBlockError{Program: program.Key, Code: code, Date: date}
		}
		return nil, err
	}
	t.logger.Info("block registered",
		logging.Int64(logging.FieldBlockID, block.ID),
		logging.String(logging.FieldProgram, block.Program),
		logging.String(logging.FieldReportDate, block.Date),
		logging.String("block_code", block.Code),
	)
	return block, nil
}

// Transition moves a block to next. The write is a compare-and-swap on the status read
// just before it; when another writer wins, the block is re-read and the change
// re-validated against the new status.
func (t *Tracker) Transition(ctx context.Context, blockID int64, next store.BlockStatus, update store.BlockUpdate) (*store.Block, error) {
	var last *store.Block
	for attempt := 0; attempt < transitionRetries; attempt++ {
		block, err := t.store.GetBlock(ctx, blockID)
		if err != nil {
			return nil, err
		}
		last = block
		if reason := checkTransition(block.Status, block.FailedFrom, next); reason != "" {
			return nil, &InvalidTransitionError{BlockID: blockID, From: block.Status, To: next, Reason: reason}
		}
		swapped, err := t.store.TransitionBlock(ctx, blockID, block.Status, next, update, followOn(blockID, next))
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}

		logger := logging.WithContext(ctx, t.logger)
		logger.Info("block transitioned",
			logging.Int64(logging.FieldBlockID, blockID),
			logging.String(logging.FieldProgram, block.Program),
			logging.String(logging.FieldReportDate, block.Date),
			logging.String("block_code", block.Code),
			logging.String("from", string(block.Status)),
			logging.String("to", string(next)),
		)
		if next == store.BlockCompleted {
			t.CompletionTrigger(ctx, block.Unit())
		}
		return t.store.GetBlock(ctx, blockID)
	}
	return nil, &InvalidTransitionError{BlockID: blockID, From: last.Status, To: next, Reason: "concurrent updates"}
}

// Retry returns a failed block to the start of the stage that failed.
func (t *Tracker) Retry(ctx context.Context, blockID int64) (*store.Block, error) {
	block, err := t.store.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	if block.Status != store.BlockFailed {
		return nil, &InvalidTransitionError{BlockID: blockID, From: block.Status, To: RetryTarget(block.FailedFrom), Reason: "only failed blocks can be retried"}
	}
	return t.Transition(ctx, blockID, RetryTarget(block.FailedFrom), store.BlockUpdate{})
}

// Fail moves a block to failed, recording the stage and error.
func (t *Tracker) Fail(ctx context.Context, blockID int64, stageName string, cause error) (*store.Block, error) {
	message := stageName
	if cause != nil {
		message = fmt.Sprintf("%s: %v", stageName, cause)
	}
	block, err := t.Transition(ctx, blockID, store.BlockFailed, store.BlockUpdate{ErrorMessage: message})
	if err != nil {
		return nil, err
	}
	logging.WarnWithContext(logging.WithContext(ctx, t.logger), "block failed", "block_failed",
		logging.Int64(logging.FieldBlockID, blockID),
		logging.String("failed_from", string(block.FailedFrom)),
		logging.String(logging.FieldErrorHint, "fix the cause, then run 'radiodigest block retry'"),
		logging.String(logging.FieldImpact, "digest for the unit waits until the block completes"),
		logging.String("error", message),
	)
	return block, nil
}

// CompletionTrigger evaluates unit after a block completed. Errors are logged; the
// time trigger and later completions re-evaluate the unit.
func (t *Tracker) CompletionTrigger(ctx context.Context, unit store.Unit) {
	if t.detector == nil || !t.sw.Permits(coordination.TriggerCompletion) {
		return
	}
	if _, err := t.detector.Check(ctx, unit, coordination.TriggerCompletion); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, t.logger), "completion trigger failed", "completion_trigger_failed",
			logging.String(logging.FieldProgram, unit.Program),
			logging.String(logging.FieldReportDate, unit.Date),
			logging.String(logging.FieldImpact, "digest waits for the time trigger"),
			logging.Error(err),
		)
	}
}

// FailExhausted fails the block behind a task whose lease expired on its last attempt.
func (t *Tracker) FailExhausted(ctx context.Context, task *store.Task) {
	if task == nil || !task.Type.BlockScoped() || task.BlockID == 0 {
		return
	}
	if _, err := t.Fail(ctx, task.BlockID, stageName(task.Type), errors.New(task.LastError)); err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			return
		}
		t.logger.Warn("fail block after lease expiry",
			logging.Int64(logging.FieldBlockID, task.BlockID),
			logging.String(logging.FieldEventType, "block_fail_write_failed"),
			logging.Error(err),
		)
	}
}

func stageName(taskType store.TaskType) string {
	switch taskType {
	case store.TaskTranscribe:
		return "transcribe"
	case store.TaskSummarize:
		return "summarize"
	default:
		return string(taskType)
	}
}
