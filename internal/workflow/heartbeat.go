package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"radiodigest/internal/logging"
	"radiodigest/internal/store"
)

// HeartbeatMonitor extends task leases while handlers run and reclaims leases whose
// worker stopped heartbeating.
type HeartbeatMonitor struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration
	lease    time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, lease time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    st,
		logger:   logger,
		interval: interval,
		lease:    lease,
	}
}

// ReclaimExpired returns expired running tasks to pending, or fails them when their
// attempts are used up. It returns the tasks that were reclaimed.
func (h *HeartbeatMonitor) ReclaimExpired(ctx context.Context) ([]*store.Task, error) {
	reclaimed, err := h.store.ReclaimExpiredLeases(ctx)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 {
		h.logger.Info("reclaimed expired leases", logging.Int("count", len(reclaimed)))
	}
	return reclaimed, nil
}

// StartLoop extends the lease on taskID every interval until ctx is cancelled. When the
// lease is lost it calls onLost once and returns.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, taskID int64, workerID string, onLost func()) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String("component", "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.ExtendLease(ctx, taskID, workerID, h.lease)
			switch {
			case err == nil:
			case errors.Is(err, store.ErrLeaseLost):
				logger.Warn("task lease lost",
					logging.String(logging.FieldEventType, "lease_lost"),
					logging.String(logging.FieldImpact, "handler cancelled; result will be discarded"),
					logging.String(logging.FieldErrorHint, "check for long pauses or clock skew on this host"),
				)
				if onLost != nil {
					onLost()
				}
				return
			case errors.Is(err, context.Canceled):
				logger.Debug("heartbeat stopped by shutdown")
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
