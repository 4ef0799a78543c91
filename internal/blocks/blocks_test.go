package blocks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"radiodigest/internal/blocks"
	"radiodigest/internal/config"
	"radiodigest/internal/coordination"
	"radiodigest/internal/digest"
	"radiodigest/internal/logging"
	"radiodigest/internal/services"
	"radiodigest/internal/services/llm"
	"radiodigest/internal/services/transcribe"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
	"radiodigest/internal/testsupport"
)

const testDate = "2026-03-02"

var testUnit = store.Unit{Program: testsupport.TestProgram, Date: testDate}

type fakeTranscriber struct {
	err   error
	stall bool
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (transcribe.Transcript, error) {
	f.calls++
	if f.stall {
		<-ctx.Done()
		return transcribe.Transcript{}, ctx.Err()
	}
	if f.err != nil {
		return transcribe.Transcript{}, f.err
	}
	return transcribe.Transcript{
		Text: "Good morning from " + filepath.Base(audioPath),
		Segments: []transcribe.Segment{
			{Start: 0, End: 2, Text: "Good morning", Speaker: "host"},
			{Start: 2, End: 4, Text: "Thanks for having me", Speaker: "guest"},
		},
		Model: "whisper-1",
	}, nil
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) SummarizeBlock(_ context.Context, req llm.BlockRequest) (llm.Summary, error) {
	f.calls++
	return llm.Summary{Text: "summary of " + req.BlockCode, Format: llm.FormatStructured, Participants: req.Speakers}, nil
}

func (f *fakeSummarizer) SummarizeDigest(context.Context, llm.DigestRequest) (llm.Summary, error) {
	return llm.Summary{Text: "digest", Format: llm.FormatPlain}, nil
}

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	tracker *blocks.Tracker
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	sw, err := coordination.NewSwitch(cfg.Coordination.Authority)
	if err != nil {
		t.Fatalf("NewSwitch: %v", err)
	}
	detector := digest.NewDetector(cfg, st, sw, logging.NewNop())
	return &fixture{
		cfg:     cfg,
		store:   st,
		tracker: blocks.NewTracker(cfg, st, sw, detector, logging.NewNop()),
	}
}

func (f *fixture) create(t *testing.T, code string) *store.Block {
	t.Helper()
	block, err := f.tracker.Create(context.Background(), testsupport.TestProgram, code, testDate)
	if err != nil {
		t.Fatalf("Create %s: %v", code, err)
	}
	return block
}

func (f *fixture) walk(t *testing.T, id int64, statuses ...store.BlockStatus) {
	t.Helper()
	for _, status := range statuses {
		if _, err := f.tracker.Transition(context.Background(), id, status, store.BlockUpdate{}); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
}

func (f *fixture) tasks(t *testing.T, taskType store.TaskType) []*store.Task {
	t.Helper()
	tasks, err := f.store.ListTasks(context.Background(), store.TaskFilter{Types: []store.TaskType{taskType}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	return tasks
}

func TestCreateValidatesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.create(t, "A")

	_, err := f.tracker.Create(context.Background(), testsupport.TestProgram, "A", testDate)
	var dup *blocks.DuplicateBlockError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateBlockError, got %v", err)
	}
	if dup.Code != "A" || dup.Date != testDate {
		t.Fatalf("unexpected duplicate details: %+v", dup)
	}

	if _, err := f.tracker.Create(context.Background(), testsupport.TestProgram, "Z", testDate); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unknown block code should be a validation error, got %v", err)
	}
	if _, err := f.tracker.Create(context.Background(), "late-show", "A", testDate); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unknown program should be a validation error, got %v", err)
	}
	if _, err := f.tracker.Create(context.Background(), testsupport.TestProgram, "B", "03/02/2026"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad date should be a validation error, got %v", err)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	block := f.create(t, "A")
	f.walk(t, block.ID, store.BlockRecording)

	for _, next := range []store.BlockStatus{store.BlockScheduled, store.BlockRecording, store.BlockStatus("paused")} {
		_, err := f.tracker.Transition(context.Background(), block.ID, next, store.BlockUpdate{})
		var invalid *blocks.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("recording -> %s should be rejected, got %v", next, err)
		}
	}

	// Forward jumps are allowed and still schedule the entered stage's task.
	moved, err := f.tracker.Transition(context.Background(), block.ID, store.BlockRecorded, store.BlockUpdate{AudioPath: "/audio/A.mp3"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if moved.Status != store.BlockRecorded || moved.AudioPath != "/audio/A.mp3" {
		t.Fatalf("unexpected block: %+v", moved)
	}
	if _, ok := moved.Transitions[store.BlockRecorded]; !ok {
		t.Fatal("expected recorded transition timestamp")
	}
	if got := len(f.tasks(t, store.TaskTranscribe)); got != 1 {
		t.Fatalf("expected one transcribe task, got %d", got)
	}
}

func TestFailAndRetryReturnToStageStart(t *testing.T) {
	f := newFixture(t)
	block := f.create(t, "A")
	f.walk(t, block.ID, store.BlockRecording, store.BlockRecorded, store.BlockTranscribing)

	failed, err := f.tracker.Fail(context.Background(), block.ID, "transcribe", errors.New("model unavailable"))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != store.BlockFailed || failed.FailedFrom != store.BlockTranscribing {
		t.Fatalf("unexpected failed block: %+v", failed)
	}

	var invalid *blocks.InvalidTransitionError
	if _, err := f.tracker.Transition(context.Background(), block.ID, store.BlockTranscribed, store.BlockUpdate{}); !errors.As(err, &invalid) {
		t.Fatalf("failed block must only move to its retry target, got %v", err)
	}

	retried, err := f.tracker.Retry(context.Background(), block.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != store.BlockRecorded || retried.FailedFrom != "" || retried.ErrorMessage != "" {
		t.Fatalf("unexpected retried block: %+v", retried)
	}
	if got := len(f.tasks(t, store.TaskTranscribe)); got != 2 {
		t.Fatalf("retry should enqueue a new transcribe task, got %d", got)
	}
	if _, err := f.tracker.Retry(context.Background(), block.ID); !errors.As(err, &invalid) {
		t.Fatalf("retrying a healthy block should fail, got %v", err)
	}
}

func TestRetryTargets(t *testing.T) {
	cases := map[store.BlockStatus]store.BlockStatus{
		store.BlockScheduled:    store.BlockScheduled,
		store.BlockRecording:    store.BlockScheduled,
		store.BlockRecorded:     store.BlockRecorded,
		store.BlockTranscribing: store.BlockRecorded,
		store.BlockTranscribed:  store.BlockTranscribed,
		store.BlockSummarizing:  store.BlockTranscribed,
	}
	for from, want := range cases {
		if got := blocks.RetryTarget(from); got != want {
			t.Fatalf("RetryTarget(%s) = %s, want %s", from, got, want)
		}
	}
}

func TestCompletedBlockCannotFail(t *testing.T) {
	f := newFixture(t)
	block := f.create(t, "A")
	f.walk(t, block.ID, store.BlockCompleted)

	var invalid *blocks.InvalidTransitionError
	if _, err := f.tracker.Fail(context.Background(), block.ID, "summarize", errors.New("late")); !errors.As(err, &invalid) {
		t.Fatalf("completed block must not fail, got %v", err)
	}
}

func TestFourBlocksCompletingEnqueueOneDigest(t *testing.T) {
	f := newFixture(t)
	ids := make([]int64, 0, 4)
	for _, code := range []string{"A", "B", "C", "D"} {
		ids = append(ids, f.create(t, code).ID)
	}
	for i, id := range ids {
		f.walk(t, id, store.BlockCompleted)
		got := len(f.tasks(t, store.TaskCreateDigest))
		want := 0
		if i == len(ids)-1 {
			want = 1
		}
		if got != want {
			t.Fatalf("after %d completions: %d digest tasks, want %d", i+1, got, want)
		}
	}
}

func TestTimeOnlyAuthoritySkipsCompletionTrigger(t *testing.T) {
	f := newFixture(t, testsupport.WithAuthority(string(coordination.AuthorityTimeOnly)))
	for _, code := range []string{"A", "B", "C", "D"} {
		f.walk(t, f.create(t, code).ID, store.BlockCompleted)
	}
	if got := len(f.tasks(t, store.TaskCreateDigest)); got != 0 {
		t.Fatalf("completion trigger must be disabled, got %d tasks", got)
	}
}

func claimOne(t *testing.T, st *store.Store, taskType store.TaskType) *store.Task {
	t.Helper()
	task, err := st.ClaimNext(context.Background(), "worker-test", 0)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if task == nil || task.Type != taskType {
		t.Fatalf("expected %s task, got %+v", taskType, task)
	}
	return task
}

func TestHandlersDriveBlockToCompletion(t *testing.T) {
	f := newFixture(t, testsupport.WithBlocks("A"))
	transcriber := &fakeTranscriber{}
	summarizer := &fakeSummarizer{}
	transcribeHandler := blocks.NewTranscribeHandler(f.cfg, f.store, f.tracker, transcriber, logging.NewNop())
	summarizeHandler := blocks.NewSummarizeHandler(f.cfg, f.store, f.tracker, summarizer, logging.NewNop())

	block := f.create(t, "A")
	audio := testsupport.WriteAudio(t, testsupport.BaseDir(f.cfg), "A.mp3", 64)
	f.walk(t, block.ID, store.BlockRecording)
	if _, err := f.tracker.Transition(context.Background(), block.ID, store.BlockRecorded, store.BlockUpdate{AudioPath: audio}); err != nil {
		t.Fatalf("record: %v", err)
	}

	task := claimOne(t, f.store, store.TaskTranscribe)
	if outcome := transcribeHandler.Execute(context.Background(), task); outcome.Kind != stage.Success {
		t.Fatalf("transcribe: %s %v", outcome.Kind, outcome.Err)
	}
	transcribed, _ := f.store.GetBlock(context.Background(), block.ID)
	if transcribed.Status != store.BlockTranscribed || transcribed.Participants != 2 {
		t.Fatalf("unexpected block after transcription: %+v", transcribed)
	}
	want := filepath.Join(f.cfg.TranscriptDir(), testsupport.TestProgram, testDate, "A.json")
	if transcribed.TranscriptPath != want {
		t.Fatalf("unexpected transcript path %q", transcribed.TranscriptPath)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("transcript document missing: %v", err)
	}
	if err := f.store.CompleteTask(context.Background(), task.ID, task.WorkerID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	// A duplicate transcribe task on a transcribed block is a no-op.
	if outcome := transcribeHandler.Execute(context.Background(), task); outcome.Kind != stage.Success || outcome.Note == "" {
		t.Fatalf("expected no-op, got %s %q", outcome.Kind, outcome.Note)
	}
	if transcriber.calls != 1 {
		t.Fatalf("expected one transcription call, got %d", transcriber.calls)
	}

	summarize := claimOne(t, f.store, store.TaskSummarize)
	if outcome := summarizeHandler.Execute(context.Background(), summarize); outcome.Kind != stage.Success {
		t.Fatalf("summarize: %s %v", outcome.Kind, outcome.Err)
	}
	completed, _ := f.store.GetBlock(context.Background(), block.ID)
	if completed.Status != store.BlockCompleted || completed.Summary != "summary of A" || completed.SummaryFormat != llm.FormatStructured {
		t.Fatalf("unexpected completed block: %+v", completed)
	}
	if got := len(f.tasks(t, store.TaskCreateDigest)); got != 1 {
		t.Fatalf("single-block program should enqueue its digest, got %d", got)
	}

	if outcome := summarizeHandler.Execute(context.Background(), summarize); outcome.Kind != stage.Success || outcome.Note == "" {
		t.Fatalf("expected no-op on completed block, got %s %q", outcome.Kind, outcome.Note)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected one summarizer call, got %d", summarizer.calls)
	}
}

func TestTranscribeFailureOnFinalAttemptFailsBlock(t *testing.T) {
	f := newFixture(t)
	transcriber := &fakeTranscriber{err: services.Wrap(services.ErrTransient, "transcribe", "upload", "503", nil)}
	handler := blocks.NewTranscribeHandler(f.cfg, f.store, f.tracker, transcriber, logging.NewNop())

	block := f.create(t, "A")
	f.walk(t, block.ID, store.BlockRecording)
	if _, err := f.tracker.Transition(context.Background(), block.ID, store.BlockRecorded, store.BlockUpdate{AudioPath: "/audio/A.mp3"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	task := claimOne(t, f.store, store.TaskTranscribe)

	if outcome := handler.Execute(context.Background(), task); outcome.Kind != stage.TransientFailure {
		t.Fatalf("expected transient outcome, got %s", outcome.Kind)
	}
	mid, _ := f.store.GetBlock(context.Background(), block.ID)
	if mid.Status != store.BlockTranscribing {
		t.Fatalf("block should stay transcribing while attempts remain, got %s", mid.Status)
	}

	task.Attempts = task.MaxAttempts
	if outcome := handler.Execute(context.Background(), task); outcome.Kind != stage.TransientFailure {
		t.Fatalf("expected transient outcome, got %s", outcome.Kind)
	}
	failed, _ := f.store.GetBlock(context.Background(), block.ID)
	if failed.Status != store.BlockFailed || failed.FailedFrom != store.BlockTranscribing {
		t.Fatalf("expected failed block, got %+v", failed)
	}
}

func TestTimeoutOnFinalAttemptFailsBlock(t *testing.T) {
	f := newFixture(t)
	handler := blocks.NewTranscribeHandler(f.cfg, f.store, f.tracker, &fakeTranscriber{stall: true}, logging.NewNop())

	block := f.create(t, "A")
	f.walk(t, block.ID, store.BlockRecording)
	if _, err := f.tracker.Transition(context.Background(), block.ID, store.BlockRecorded, store.BlockUpdate{AudioPath: "/audio/A.mp3"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	task := claimOne(t, f.store, store.TaskTranscribe)
	task.Attempts = task.MaxAttempts

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if outcome := handler.Execute(ctx, task); outcome.Kind != stage.TransientFailure {
		t.Fatalf("expected transient outcome on deadline, got %s", outcome.Kind)
	}
	failed, err := f.store.GetBlock(context.Background(), block.ID)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if failed.Status != store.BlockFailed || failed.FailedFrom != store.BlockTranscribing {
		t.Fatalf("timed-out final attempt should fail the block, got %+v", failed)
	}
	if _, err := f.tracker.Retry(context.Background(), block.ID); err != nil {
		t.Fatalf("failed block should be retryable: %v", err)
	}
}
