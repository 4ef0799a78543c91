package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"radiodigest/internal/logging"
	"radiodigest/internal/services"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
)

// RunOnce claims and processes at most one task as workerID. It reports whether a
// task was claimed.
func (m *Manager) RunOnce(ctx context.Context, workerID string) (bool, error) {
	task, err := m.store.ClaimNext(ctx, workerID, m.lease)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	m.process(ctx, workerID, task)
	return true, nil
}

func (m *Manager) process(ctx context.Context, workerID string, task *store.Task) {
	taskCtx := services.WithTaskID(ctx, task.ID)
	taskCtx = services.WithTaskType(taskCtx, string(task.Type))
	taskCtx = services.WithWorkerID(taskCtx, workerID)
	taskCtx = services.WithRequestID(taskCtx, uuid.NewString())
	if task.BlockID != 0 {
		taskCtx = services.WithBlockID(taskCtx, task.BlockID)
	}
	logger := logging.WithContext(taskCtx, m.logger)
	if task.Unit.Valid() {
		logger = logger.With(logging.Args(logging.Unit(task.Unit.Program, task.Unit.Date)...)...)
	}

	start := time.Now()
	logger.Info("task started",
		logging.String(logging.FieldEventType, "task_start"),
		logging.Int("attempt", task.Attempts),
		logging.Int("max_attempts", task.MaxAttempts),
	)

	handler := m.handler(task.Type)
	var outcome stage.Outcome
	if handler == nil {
		outcome = stage.Permanent(fmt.Errorf("no handler registered for %s", task.Type))
	} else {
		outcome = m.executeWithHeartbeat(taskCtx, logger, handler, task, workerID)
	}

	if ctx.Err() != nil && outcome.Kind != stage.Success {
		// Shutdown interrupted the handler. The lease expires and the task is reclaimed.
		logger.Info("task interrupted by shutdown", logging.String(logging.FieldEventType, "task_interrupted"))
		return
	}
	m.finalize(context.WithoutCancel(taskCtx), logger, task, workerID, outcome, time.Since(start))
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, logger *slog.Logger, handler stage.Handler, task *store.Task, workerID string) stage.Outcome {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m.taskTimeout > 0 {
		var timeoutCancel context.CancelFunc
		execCtx, timeoutCancel = context.WithTimeout(execCtx, m.taskTimeout)
		defer timeoutCancel()
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, task.ID, workerID, cancel)

	outcome := invoke(execCtx, logger, handler, task)
	hbCancel()
	hbWG.Wait()

	if outcome.Kind != stage.Success && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		outcome = stage.Transient(services.Wrap(services.ErrTimeout, string(task.Type), "execute",
			fmt.Sprintf("exceeded task timeout of %s", m.taskTimeout), outcome.Err))
	}
	return outcome
}

// invoke runs the handler and converts a panic into a permanent failure.
func invoke(ctx context.Context, logger *slog.Logger, handler stage.Handler, task *store.Task) (outcome stage.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked",
				logging.String(logging.FieldEventType, "handler_panic"),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			outcome = stage.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler.Execute(ctx, task)
}

// finalize applies the retry policy to outcome. Every write is conditional on the task
// still running under workerID; a lost lease discards the result.
func (m *Manager) finalize(ctx context.Context, logger *slog.Logger, task *store.Task, workerID string, outcome stage.Outcome, elapsed time.Duration) {
	decision := m.policy.Decide(outcome, task.Attempts, task.MaxAttempts)
	var err error
	status := store.TaskCompleted
	switch decision.Action {
	case stage.ActionComplete:
		err = m.store.CompleteTask(ctx, task.ID, workerID, outcome.FollowOns...)
	case stage.ActionRetry:
		status, err = m.store.RetryTask(ctx, task.ID, workerID, outcome.Message(), decision.Delay)
	default:
		status = store.TaskFailed
		err = m.store.FailTask(ctx, task.ID, workerID, outcome.Message())
	}

	if err != nil {
		if errors.Is(err, store.ErrLeaseLost) {
			logger.Info("task lease lost before finalize; result discarded",
				logging.String(logging.FieldEventType, "lease_lost"),
				logging.String("outcome", outcome.Kind.String()),
			)
			return
		}
		m.setLastError(err)
		logger.Error("failed to finalize task",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_finalize_failed"),
			logging.String(logging.FieldErrorHint, "check database access; the lease will expire and the task will be reclaimed"),
		)
		return
	}

	task.Status = status
	task.LastError = outcome.Message()
	m.recordTask(task, status == store.TaskFailed)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "task_"+decision.Action.String()),
		logging.String("outcome", outcome.Kind.String()),
		logging.Duration("task_duration", elapsed),
	}
	switch {
	case status == store.TaskFailed:
		attrs = append(attrs,
			logging.Alert("task_failure"),
			logging.String("error_message", outcome.Message()),
			logging.String(logging.FieldErrorHint, "inspect with 'radiodigest task list --status failed' and retry with 'radiodigest task retry'"),
		)
		logger.Error("task failed", logging.Args(attrs...)...)
		m.notifyTaskFailed(ctx, task, outcome.Message())
	case status == store.TaskPending:
		attrs = append(attrs, logging.Duration("retry_in", decision.Delay), logging.Error(outcome.Err))
		logger.Warn("task will be retried", logging.Args(attrs...)...)
	default:
		if outcome.Note != "" {
			attrs = append(attrs, logging.String("note", outcome.Note))
		}
		attrs = append(attrs, logging.Int("follow_ons", len(outcome.FollowOns)))
		logger.Info("task completed", logging.Args(attrs...)...)
	}
}
