package workflow

import (
	"context"
	"errors"

	"radiodigest/internal/logging"
	"radiodigest/internal/notifications"
	"radiodigest/internal/store"
)

func (m *Manager) notifyTaskFailed(ctx context.Context, task *store.Task, message string) {
	if m.notifier == nil || task == nil {
		return
	}
	payload := notifications.Payload{
		"taskID":   task.ID,
		"taskType": string(task.Type),
		"error":    message,
	}
	if task.Unit.Valid() {
		payload["program"] = task.Unit.Program
		payload["date"] = task.Unit.Date
	} else if task.BlockID != 0 {
		if block, err := m.store.GetBlock(ctx, task.BlockID); err == nil {
			payload["program"] = block.Program
			payload["date"] = block.Date
		}
	}
	if err := m.notifier.Publish(ctx, notifications.EventTaskFailed, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send failure notification")
		} else {
			m.logger.Debug("task failure notification failed", logging.Error(err))
		}
	}
}
