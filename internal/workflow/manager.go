package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/notifications"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
)

// ExhaustedFunc is called for every task the reclaimer fails after its last attempt.
type ExhaustedFunc func(ctx context.Context, task *store.Task)

// Manager coordinates task processing using registered stage handlers.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	notifier notifications.Service
	policy   stage.RetryPolicy

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	lease              time.Duration
	taskTimeout        time.Duration
	workers            int
	workerPrefix       string

	heartbeat   *HeartbeatMonitor
	onExhausted ExhaustedFunc

	handlers map[store.TaskType]stage.Handler

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastTask  *store.Task
	processed int
	failed    int
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	logger = logging.NewComponentLogger(logger, "workflow-manager")
	lease := time.Duration(cfg.Workflow.LeaseTimeout) * time.Second
	return &Manager{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		notifier: notifier,
		policy: stage.RetryPolicy{
			Base: time.Duration(cfg.Workflow.RetryBackoff) * time.Second,
			Max:  time.Duration(cfg.Workflow.RetryBackoffMax) * time.Second,
		},
		pollInterval:       time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		lease:              lease,
		taskTimeout:        time.Duration(cfg.Workflow.TaskTimeout) * time.Second,
		workers:            cfg.Workflow.Workers,
		workerPrefix:       workerPrefix(),
		heartbeat: NewHeartbeatMonitor(
			st,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			lease,
		),
		handlers: make(map[store.TaskType]stage.Handler),
	}
}

// Register installs the handler for a task type, replacing any previous one.
func (m *Manager) Register(taskType store.TaskType, handler stage.Handler) {
	m.mu.Lock()
	m.handlers[taskType] = handler
	m.mu.Unlock()
}

// OnExhausted installs the hook run for tasks failed by lease reclamation.
func (m *Manager) OnExhausted(fn ExhaustedFunc) {
	m.mu.Lock()
	m.onExhausted = fn
	m.mu.Unlock()
}

func (m *Manager) handler(taskType store.TaskType) stage.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[taskType]
}

func (m *Manager) workerID(index int) string {
	return fmt.Sprintf("%s-w%d", m.workerPrefix, index)
}

// workerPrefix identifies this process in worker ids so leases held by different
// processes on one host never collide.
func workerPrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "host"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
