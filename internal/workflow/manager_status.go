package workflow

import (
	"context"

	"radiodigest/internal/logging"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	Processed   int
	Failed      int
	LastError   string
	LastTask    *store.Task
	Stats       store.Stats
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   m.workers,
		Processed: m.processed,
		Failed:    m.failed,
	}
	lastErr := m.lastErr
	if m.lastTask != nil {
		copy := *m.lastTask
		summary.LastTask = &copy
	}
	handlers := make(map[store.TaskType]stage.Handler, len(m.handlers))
	for taskType, handler := range m.handlers {
		handlers[taskType] = handler
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.Stats = stats

	summary.StageHealth = make(map[string]stage.Health, len(handlers))
	for taskType, handler := range handlers {
		if handler == nil {
			continue
		}
		summary.StageHealth[string(taskType)] = handler.HealthCheck(ctx)
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordTask(task *store.Task, failed bool) {
	m.mu.Lock()
	copy := *task
	m.lastTask = &copy
	m.processed++
	if failed {
		m.failed++
	}
	m.mu.Unlock()
}
