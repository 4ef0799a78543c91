package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/notifications"
	"radiodigest/internal/store"
	"radiodigest/internal/workflow"
)

// Daemon coordinates the background loops for one process role.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	components *Components
	role       Role

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Role         Role
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon around already wired components.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, components *Components, role Role) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || components == nil {
		return nil, errors.New("daemon requires config, store, logger, and components")
	}
	lockPath := cfg.SchedulerLockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		components: components,
		role:       role,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start launches the loops for the configured role. The scheduler role acquires
// the scheduler lock first and fails when another process holds it.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if d.role.RunsScheduler() {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire scheduler lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another radiodigest scheduler is already running (lock %s)", d.lockPath)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.role.RunsWorkers() {
		if err := d.components.Manager.Start(runCtx); err != nil {
			cancel()
			d.unlock()
			return fmt.Errorf("start workflow: %w", err)
		}
	}
	if d.role.RunsScheduler() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.components.Scheduler.Run(runCtx); err != nil {
				d.logger.Error("scheduler exited", logging.Error(err))
			}
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("radiodigest daemon started",
		logging.String("role", string(d.role)),
		logging.String("authority", string(d.components.Switch.Authority())),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop stops background processing and releases the scheduler lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.role.RunsWorkers() {
		d.components.Manager.Stop()
	}
	d.wg.Wait()
	d.unlock()
	d.running.Store(false)
	d.logger.Info("radiodigest daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) unlock() {
	if !d.role.RunsScheduler() {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release scheduler lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "scheduler_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no scheduler is running"),
		)
	}
}

// TestNotification publishes a test event through the operator channel.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.components.Notifier.Publish(ctx, notifications.EventTest, nil)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Role:         d.role,
		Workflow:     d.components.Manager.Status(ctx),
		DatabasePath: d.cfg.Paths.DatabasePath,
		LockFilePath: d.lockPath,
	}
}
