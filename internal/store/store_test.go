package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"radiodigest/internal/store"
	"radiodigest/internal/testsupport"
)

const testDate = "2026-03-02"

var testUnit = store.Unit{Program: testsupport.TestProgram, Date: testDate}

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 1 || len(health.MissingTables) != 0 {
		t.Fatalf("unexpected schema state: %+v", health)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.Close()
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	st.Close()

	db, err := sql.Open("sqlite", cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestCreateBlockRejectsDuplicate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	block := testsupport.NewBlock(t, st, testDate, "A")
	if block.Status != store.BlockScheduled {
		t.Fatalf("expected scheduled, got %s", block.Status)
	}
	if _, err := st.CreateBlock(context.Background(), testUnit, "A"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	other := store.Unit{Program: testsupport.TestProgram, Date: "2026-03-03"}
	if _, err := st.CreateBlock(context.Background(), other, "A"); err != nil {
		t.Fatalf("same code on another date should succeed: %v", err)
	}
}

func TestTransitionBlockIsCompareAndSwap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	block := testsupport.NewBlock(t, st, testDate, "A")
	testsupport.Advance(t, st, block, store.BlockRecording)

	followOn := &store.TaskSpec{Type: store.TaskTranscribe, BlockID: block.ID, Unit: testUnit}
	ok, err := st.TransitionBlock(ctx, block.ID, store.BlockRecording, store.BlockRecorded,
		store.BlockUpdate{AudioPath: "/audio/a.mp3"}, followOn)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = st.TransitionBlock(ctx, block.ID, store.BlockRecording, store.BlockRecorded, store.BlockUpdate{}, followOn)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatal("expected stale transition to be rejected")
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{Types: []store.TaskType{store.TaskTranscribe}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one follow-on task, got %d", len(tasks))
	}

	fetched, err := st.GetBlock(ctx, block.ID)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if fetched.AudioPath != "/audio/a.mp3" || fetched.Transitions[store.BlockRecorded].IsZero() {
		t.Fatalf("unexpected block after transition: %+v", fetched)
	}
}

func TestTransitionToFailedRecordsOrigin(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	block := testsupport.NewBlock(t, st, testDate, "B")
	testsupport.Advance(t, st, block, store.BlockRecording, store.BlockRecorded, store.BlockTranscribing)
	ok, err := st.TransitionBlock(ctx, block.ID, store.BlockTranscribing, store.BlockFailed,
		store.BlockUpdate{ErrorMessage: "stt unavailable"}, nil)
	if err != nil || !ok {
		t.Fatalf("fail transition: ok=%v err=%v", ok, err)
	}
	fetched, _ := st.GetBlock(ctx, block.ID)
	if fetched.FailedFrom != store.BlockTranscribing || fetched.ErrorMessage != "stt unavailable" {
		t.Fatalf("unexpected failure bookkeeping: %+v", fetched)
	}

	ok, err = st.TransitionBlock(ctx, block.ID, store.BlockFailed, store.BlockRecorded, store.BlockUpdate{}, nil)
	if err != nil || !ok {
		t.Fatalf("retry transition: ok=%v err=%v", ok, err)
	}
	fetched, _ = st.GetBlock(ctx, block.ID)
	if fetched.FailedFrom != "" || fetched.ErrorMessage != "" {
		t.Fatalf("expected failure fields cleared: %+v", fetched)
	}
}

func TestClaimNextHonorsPriorityAndAvailability(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	block := testsupport.NewBlock(t, st, testDate, "A")
	mustEnqueue(t, st, store.TaskSpec{Type: store.TaskTranscribe, BlockID: block.ID})
	mustEnqueue(t, st, store.TaskSpec{Type: store.TaskSendDigest, Unit: testUnit})
	mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})

	var order []store.TaskType
	for {
		task, err := st.ClaimNext(ctx, "worker-1", time.Minute)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if task == nil {
			break
		}
		if task.Status != store.TaskRunning || task.Attempts != 1 || task.WorkerID != "worker-1" {
			t.Fatalf("unexpected claimed task: %+v", task)
		}
		order = append(order, task.Type)
	}
	want := []store.TaskType{store.TaskSendDigest, store.TaskCreateDigest, store.TaskTranscribe}
	if len(order) != len(want) {
		t.Fatalf("unexpected claim order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected claim order %v", order)
		}
	}
}

func TestClaimNextConcurrentWorkersNeverShareTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const taskCount = 20
	for i := 0; i < taskCount; i++ {
		mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]string)
		wg      sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		workerID := string(rune('a' + w))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := st.ClaimNext(ctx, workerID, time.Minute)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[task.ID]; dup {
					t.Errorf("task %d claimed by %s and %s", task.ID, prev, workerID)
				}
				claimed[task.ID] = workerID
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(claimed) != taskCount {
		t.Fatalf("expected %d claims, got %d", taskCount, len(claimed))
	}
}

func TestRetryTaskExhaustsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit, MaxAttempts: 2})

	claimed := mustClaim(t, st, "w1")
	if _, err := st.RetryTask(ctx, claimed.ID, "someone-else", "boom", 0); !errors.Is(err, store.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for foreign worker, got %v", err)
	}
	status, err := st.RetryTask(ctx, claimed.ID, "w1", "boom", 0)
	if err != nil || status != store.TaskPending {
		t.Fatalf("first retry: status=%s err=%v", status, err)
	}

	claimed = mustClaim(t, st, "w1")
	if !claimed.FinalAttempt() {
		t.Fatalf("expected final attempt, got attempts=%d", claimed.Attempts)
	}
	status, err = st.RetryTask(ctx, claimed.ID, "w1", "boom again", 0)
	if err != nil || status != store.TaskFailed {
		t.Fatalf("second retry: status=%s err=%v", status, err)
	}

	fetched, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if fetched.LastError != "boom again" || fetched.FinishedAt == nil {
		t.Fatalf("unexpected failed task: %+v", fetched)
	}

	retried, err := st.RetryFailedTasks(ctx, task.ID)
	if err != nil || retried != 1 {
		t.Fatalf("RetryFailedTasks: n=%d err=%v", retried, err)
	}
	fetched, _ = st.GetTask(ctx, task.ID)
	if fetched.Status != store.TaskPending || fetched.Attempts != 0 {
		t.Fatalf("expected fresh pending task, got %+v", fetched)
	}
}

func TestRetryBackoffDelaysClaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	claimed := mustClaim(t, st, "w1")
	if _, err := st.RetryTask(ctx, claimed.ID, "w1", "later", time.Hour); err != nil {
		t.Fatalf("RetryTask: %v", err)
	}
	task, err := st.ClaimNext(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if task != nil {
		t.Fatalf("expected backoff to hide task, claimed %+v", task)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	claimed, err := st.ClaimNext(ctx, "crashed", -time.Second)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: task=%v err=%v", claimed, err)
	}

	reclaimed, err := st.ReclaimExpiredLeases(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != task.ID || reclaimed[0].Status != store.TaskPending {
		t.Fatalf("unexpected reclaimed tasks: %+v", reclaimed)
	}
	if err := st.CompleteTask(ctx, task.ID, "crashed"); !errors.Is(err, store.ErrLeaseLost) {
		t.Fatalf("expected stale worker completion to fail, got %v", err)
	}

	again := mustClaim(t, st, "fresh")
	if err := st.ExtendLease(ctx, again.ID, "fresh", time.Minute); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if err := st.CompleteTask(ctx, again.ID, "fresh", store.TaskSpec{Type: store.TaskSendDigest, Unit: testUnit}); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	active, err := st.HasActiveTask(ctx, store.TaskSendDigest, testUnit)
	if err != nil || !active {
		t.Fatalf("expected follow-on send task: active=%v err=%v", active, err)
	}
}

func TestClaimDigestExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := st.ClaimDigest(ctx, testUnit)
			if err != nil {
				t.Errorf("ClaimDigest: %v", err)
				return
			}
			if claim.Claimed {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if claim.Existing == nil {
				t.Error("losing claim should report the existing digest")
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestPublishRequiresOwningToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	claim, err := st.ClaimDigest(ctx, testUnit)
	if err != nil || !claim.Claimed {
		t.Fatalf("ClaimDigest: %+v %v", claim, err)
	}
	content := store.DigestContent{Body: "digest", Format: "markdown", BlockCount: 4, Participants: 3}
	if err := st.PublishDigest(ctx, testUnit, "not-the-token", content, nil); !errors.Is(err, store.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}

	send := &store.TaskSpec{Type: store.TaskSendDigest, Unit: testUnit}
	if err := st.PublishDigest(ctx, testUnit, claim.Token, content, send); err != nil {
		t.Fatalf("PublishDigest: %v", err)
	}
	digest, err := st.GetDigest(ctx, testUnit)
	if err != nil {
		t.Fatalf("GetDigest: %v", err)
	}
	if digest.Status != store.DigestReady || digest.Participants != 3 || digest.ReadyAt == nil {
		t.Fatalf("unexpected digest: %+v", digest)
	}
	if active, _ := st.HasActiveTask(ctx, store.TaskSendDigest, testUnit); !active {
		t.Fatal("expected send task to be enqueued with publish")
	}
}

func TestHandOffDigestTransfersOwnership(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	claim, _ := st.ClaimDigest(ctx, testUnit)
	orphans, err := st.OrphanedDigests(ctx, time.Now().Add(time.Second))
	if err != nil || len(orphans) != 1 {
		t.Fatalf("OrphanedDigests: %d %v", len(orphans), err)
	}

	newToken, err := st.HandOffDigest(ctx, testUnit, claim.Token, store.TaskSpec{})
	if err != nil || newToken == "" {
		t.Fatalf("HandOffDigest: token=%q err=%v", newToken, err)
	}
	if again, _ := st.HandOffDigest(ctx, testUnit, claim.Token, store.TaskSpec{}); again != "" {
		t.Fatal("stale token should not hand off twice")
	}
	if ok, _ := st.ResumeDigestClaim(ctx, testUnit, claim.Token); ok {
		t.Fatal("old token should not resume")
	}
	if ok, _ := st.ResumeDigestClaim(ctx, testUnit, newToken); !ok {
		t.Fatal("new token should resume")
	}

	tasks, _ := st.ListTasks(ctx, store.TaskFilter{Types: []store.TaskType{store.TaskCreateDigest}})
	if len(tasks) != 1 || tasks[0].ClaimToken != newToken {
		t.Fatalf("expected rebuild task carrying the new token, got %+v", tasks)
	}
	digest, _ := st.GetDigest(ctx, testUnit)
	if digest.Rebuilds != 1 {
		t.Fatalf("expected rebuild counter 1, got %d", digest.Rebuilds)
	}
}

func TestReleaseAndResetDigest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	claim, _ := st.ClaimDigest(ctx, testUnit)
	if ok, err := st.ReleaseDigestClaim(ctx, testUnit, claim.Token); err != nil || !ok {
		t.Fatalf("ReleaseDigestClaim: ok=%v err=%v", ok, err)
	}
	if _, err := st.GetDigest(ctx, testUnit); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected released digest to be gone, got %v", err)
	}

	if again, _ := st.ClaimDigest(ctx, testUnit); !again.Claimed {
		t.Fatal("expected released unit to be claimable")
	}
	if ok, err := st.FailDigest(ctx, testUnit, "", "rebuild budget spent"); err != nil || !ok {
		t.Fatalf("FailDigest: ok=%v err=%v", ok, err)
	}
	if ok, err := st.ResetFailedDigest(ctx, testUnit, store.TaskSpec{}); err != nil || !ok {
		t.Fatalf("ResetFailedDigest: ok=%v err=%v", ok, err)
	}
	if active, _ := st.HasActiveTask(ctx, store.TaskCreateDigest, testUnit); !active {
		t.Fatal("expected reset to enqueue a digest task")
	}
	if fresh, _ := st.ClaimDigest(ctx, testUnit); !fresh.Claimed {
		t.Fatal("expected unit to be claimable after reset")
	}
}

func TestSendLockLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	recipients := []string{"desk@example.com", "news@example.com"}

	first, err := st.ClaimSendLock(ctx, testUnit, recipients, time.Hour)
	if err != nil || !first.Claimed {
		t.Fatalf("first claim: %+v %v", first, err)
	}
	second, err := st.ClaimSendLock(ctx, testUnit, recipients, time.Hour)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.Claimed || second.Existing == nil || second.Existing.Status != store.LockSending {
		t.Fatalf("expected held lock to block, got %+v", second)
	}

	if err := st.MarkSendFailed(ctx, testUnit, first.Token, "smtp down"); err != nil {
		t.Fatalf("MarkSendFailed: %v", err)
	}
	retry, err := st.ClaimSendLock(ctx, testUnit, recipients, time.Hour)
	if err != nil || !retry.Claimed {
		t.Fatalf("expected failed lock to be reclaimable: %+v %v", retry, err)
	}
	if err := st.MarkSent(ctx, testUnit, first.Token, time.Hour); !errors.Is(err, store.ErrClaimLost) {
		t.Fatalf("expected stale token to lose, got %v", err)
	}
	if err := st.MarkSent(ctx, testUnit, retry.Token, time.Hour); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	blocked, _ := st.ClaimSendLock(ctx, testUnit, recipients, time.Hour)
	if blocked.Claimed {
		t.Fatal("sent lock inside its window must block new claims")
	}
	lock, err := st.GetSendLock(ctx, testUnit)
	if err != nil {
		t.Fatalf("GetSendLock: %v", err)
	}
	if lock.Status != store.LockSent || lock.Attempts != 2 || len(lock.Recipients) != 2 || lock.SentAt == nil {
		t.Fatalf("unexpected lock: %+v", lock)
	}
}

func TestSendLockExpiredHoldIsReclaimable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if claim, _ := st.ClaimSendLock(ctx, testUnit, nil, -time.Second); !claim.Claimed {
		t.Fatal("expected first claim")
	}
	if claim, _ := st.ClaimSendLock(ctx, testUnit, nil, time.Hour); !claim.Claimed {
		t.Fatal("expected expired hold to be taken over")
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewBlock(t, st, testDate, "A")
	testsupport.NewBlock(t, st, testDate, "B")
	mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	mustEnqueue(t, st, store.TaskSpec{Type: store.TaskCreateDigest, Unit: testUnit})
	mustClaim(t, st, "w1")

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Blocks[store.BlockScheduled] != 2 {
		t.Fatalf("unexpected block stats: %v", stats.Blocks)
	}
	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Running != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func mustEnqueue(t *testing.T, st *store.Store, spec store.TaskSpec) *store.Task {
	t.Helper()
	task, err := st.Enqueue(context.Background(), spec)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return task
}

func mustClaim(t *testing.T, st *store.Store, workerID string) *store.Task {
	t.Helper()
	task, err := st.ClaimNext(context.Background(), workerID, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if task == nil {
		t.Fatal("expected a claimable task")
	}
	return task
}
