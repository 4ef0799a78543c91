package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"radiodigest/internal/logging"
	"radiodigest/internal/notifications"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
	"radiodigest/internal/testsupport"
	"radiodigest/internal/workflow"
)

var testUnit = store.Unit{Program: testsupport.TestProgram, Date: "2026-03-02"}

type managerNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *managerNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *managerNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

type countingHandler struct {
	calls   atomic.Int32
	execute func(context.Context, *store.Task) stage.Outcome
}

func (h *countingHandler) Execute(ctx context.Context, task *store.Task) stage.Outcome {
	h.calls.Add(1)
	return h.execute(ctx, task)
}

func (h *countingHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("counting")
}

func newManager(t *testing.T) (*workflow.Manager, *store.Store, *managerNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	notifier := &managerNotifier{}
	return workflow.NewManager(cfg, st, logging.NewNop(), notifier), st, notifier
}

func enqueue(t *testing.T, st *store.Store, spec store.TaskSpec) *store.Task {
	t.Helper()
	task, err := st.Enqueue(context.Background(), spec)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return task
}

func getTask(t *testing.T, st *store.Store, id int64) *store.Task {
	t.Helper()
	task, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return task
}

func TestManagerCompletesTaskAndInsertsFollowOns(t *testing.T) {
	mgr, st, _ := newManager(t)
	handler := &countingHandler{execute: func(context.Context, *store.Task) stage.Outcome {
		return stage.Succeed(store.TaskSpec{Type: store.TaskSendDigest, Unit: testUnit})
	}}
	mgr.Register(store.TaskCreateDigest, handler)
	task := enqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})

	processed, err := mgr.Drain(context.Background(), 1)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected one task processed, got %d", processed)
	}
	if got := getTask(t, st, task.ID); got.Status != store.TaskCompleted || got.FinishedAt == nil {
		t.Fatalf("expected completed task, got %+v", got)
	}
	sends, err := st.ListTasks(context.Background(), store.TaskFilter{Types: []store.TaskType{store.TaskSendDigest}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(sends) != 1 || sends[0].Status != store.TaskPending {
		t.Fatalf("expected pending follow-on, got %+v", sends)
	}
}

func TestManagerRetriesTransientUpToMaxAttempts(t *testing.T) {
	mgr, st, notifier := newManager(t)
	handler := &countingHandler{execute: func(context.Context, *store.Task) stage.Outcome {
		return stage.Transient(errors.New("upstream unavailable"))
	}}
	mgr.Register(store.TaskCreateDigest, handler)
	task := enqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})

	if _, err := mgr.Drain(context.Background(), 0); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := handler.calls.Load(); got != 3 {
		t.Fatalf("expected exactly three attempts, got %d", got)
	}
	got := getTask(t, st, task.ID)
	if got.Status != store.TaskFailed || got.Attempts != 3 || got.LastError != "upstream unavailable" {
		t.Fatalf("unexpected task after exhaustion: %+v", got)
	}
	if notifier.count(notifications.EventTaskFailed) != 1 {
		t.Fatalf("expected one failure notification, got %d", notifier.count(notifications.EventTaskFailed))
	}
	status := mgr.Status(context.Background())
	if status.Processed != 3 || status.Failed != 1 {
		t.Fatalf("unexpected status counters: %+v", status)
	}
}

func TestManagerPermanentFailureAndPanicDoNotRetry(t *testing.T) {
	mgr, st, notifier := newManager(t)
	permanent := &countingHandler{execute: func(context.Context, *store.Task) stage.Outcome {
		return stage.Permanent(errors.New("bad input"))
	}}
	panicking := &countingHandler{execute: func(context.Context, *store.Task) stage.Outcome {
		panic("boom")
	}}
	mgr.Register(store.TaskCreateDigest, permanent)
	mgr.Register(store.TaskSendDigest, panicking)
	first := enqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	second := enqueue(t, st, store.TaskSpec{Type: store.TaskSendDigest, Unit: testUnit})

	if _, err := mgr.Drain(context.Background(), 0); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if permanent.calls.Load() != 1 || panicking.calls.Load() != 1 {
		t.Fatalf("expected single attempts, got %d and %d", permanent.calls.Load(), panicking.calls.Load())
	}
	for _, id := range []int64{first.ID, second.ID} {
		if got := getTask(t, st, id); got.Status != store.TaskFailed || got.Attempts != 1 {
			t.Fatalf("expected failed after one attempt, got %+v", got)
		}
	}
	if notifier.count(notifications.EventTaskFailed) != 2 {
		t.Fatalf("expected two failure notifications, got %d", notifier.count(notifications.EventTaskFailed))
	}
}

func TestManagerMissingHandlerFailsTask(t *testing.T) {
	mgr, st, _ := newManager(t)
	mgr.Register(store.TaskCreateDigest, stage.HandlerFunc(func(context.Context, *store.Task) stage.Outcome {
		return stage.Succeed()
	}))
	task := enqueue(t, st, store.TaskSpec{Type: store.TaskSendDigest, Unit: testUnit})

	if _, err := mgr.Drain(context.Background(), 0); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := getTask(t, st, task.ID); got.Status != store.TaskFailed {
		t.Fatalf("expected failed task, got %s", got.Status)
	}
}

func TestManagerTaskTimeoutIsTransient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.TaskTimeout = 1
	cfg.Workflow.MaxAttempts = 1
	st := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, st, logging.NewNop(), &managerNotifier{})
	mgr.Register(store.TaskCreateDigest, stage.HandlerFunc(func(ctx context.Context, _ *store.Task) stage.Outcome {
		<-ctx.Done()
		return stage.Permanent(ctx.Err())
	}))
	task := enqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})

	if _, err := mgr.Drain(context.Background(), 1); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got := getTask(t, st, task.ID)
	if got.Status != store.TaskFailed || got.LastError == "" {
		t.Fatalf("expected timed out task to fail on its only attempt, got %+v", got)
	}
}

func TestManagerReclaimRunsExhaustionHook(t *testing.T) {
	mgr, st, notifier := newManager(t)
	var hooked atomic.Int64
	mgr.OnExhausted(func(_ context.Context, task *store.Task) {
		hooked.Store(task.ID)
	})
	task := enqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit, MaxAttempts: 1})
	if _, err := st.ClaimNext(context.Background(), "gone-worker", -time.Second); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if reclaimed := mgr.Reclaim(context.Background()); reclaimed != 1 {
		t.Fatalf("expected one reclaimed task, got %d", reclaimed)
	}
	if hooked.Load() != task.ID {
		t.Fatalf("expected exhaustion hook for task %d, got %d", task.ID, hooked.Load())
	}
	if notifier.count(notifications.EventTaskFailed) != 1 {
		t.Fatal("expected failure notification for exhausted lease")
	}
}

func TestManagerWorkersDrainQueue(t *testing.T) {
	mgr, st, _ := newManager(t)
	handler := &countingHandler{execute: func(context.Context, *store.Task) stage.Outcome {
		return stage.Succeed()
	}}
	mgr.Register(store.TaskCreateDigest, handler)
	const total = 6
	for i := 0; i < total; i++ {
		enqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		health, err := st.Health(context.Background())
		if err != nil {
			t.Fatalf("Health: %v", err)
		}
		if health.Completed == total {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	mgr.Stop()

	if got := handler.calls.Load(); got != total {
		t.Fatalf("expected %d handler calls, got %d", total, got)
	}
	if mgr.Status(context.Background()).Running {
		t.Fatal("manager should report stopped")
	}
}

func TestStartWithoutHandlersFails(t *testing.T) {
	mgr, _, _ := newManager(t)
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error without handlers")
	}
}
