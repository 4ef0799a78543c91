package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"radiodigest/internal/logging"
	"radiodigest/internal/store"
)

// Start begins background processing with the configured number of workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow handlers not configured")
	}
	workers := m.workers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	for i := 1; i <= workers; i++ {
		go m.runWorker(runCtx, m.workerID(i))
	}
	go m.runReclaimer(runCtx)

	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.String("worker_prefix", m.workerPrefix),
	)
	return nil
}

// Stop terminates background processing and waits for in-flight tasks to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorkerID, workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := m.RunOnce(ctx, workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if !processed {
			m.wait(ctx, m.pollInterval)
		}
	}
}

// runReclaimer periodically returns expired leases to the queue.
func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	interval := m.heartbeat.interval
	if interval <= 0 {
		interval = m.pollInterval
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Reclaim(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reclaim runs one lease reclamation pass and fires the exhaustion hook and failure
// notifications for tasks that ran out of attempts.
func (m *Manager) Reclaim(ctx context.Context) int {
	reclaimed, err := m.heartbeat.ReclaimExpired(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("reclaim expired leases failed; stuck tasks may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lease_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
		}
		return 0
	}
	m.mu.RLock()
	hook := m.onExhausted
	m.mu.RUnlock()
	for _, task := range reclaimed {
		if task.Status != store.TaskFailed {
			continue
		}
		if hook != nil {
			hook(ctx, task)
		}
		m.notifyTaskFailed(ctx, task, task.LastError)
	}
	return len(reclaimed)
}

// Drain processes tasks on the calling goroutine until none are claimable or limit
// tasks have run. It returns how many tasks were processed.
func (m *Manager) Drain(ctx context.Context, limit int) (int, error) {
	m.Reclaim(ctx)
	count := 0
	for limit <= 0 || count < limit {
		processed, err := m.RunOnce(ctx, m.workerID(0))
		if err != nil {
			return count, err
		}
		if !processed {
			return count, nil
		}
		count++
	}
	return count, nil
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next task",
		logging.Error(err),
		logging.String(logging.FieldEventType, "task_claim_failed"),
		logging.String(logging.FieldErrorHint, "check database access"),
	)
	m.wait(ctx, m.errorRetryInterval)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
