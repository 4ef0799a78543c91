package store

import (
	"fmt"
	"strings"
	"time"
)

// Unit identifies a reporting unit: one program on one reporting date.
type Unit struct {
	Program string
	Date    string
}

// String renders the unit as "program/date".
func (u Unit) String() string {
	return u.Program + "/" + u.Date
}

// Valid reports whether both halves of the unit are present.
func (u Unit) Valid() bool {
	return strings.TrimSpace(u.Program) != "" && strings.TrimSpace(u.Date) != ""
}

// DateLayout is the layout of reporting dates.
const DateLayout = "2006-01-02"

// ParseDate validates a reporting date string.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("reporting date %q: want YYYY-MM-DD", value)
	}
	return parsed, nil
}

// BlockStatus represents the lifecycle of a recorded block.
type BlockStatus string

const (
	BlockScheduled    BlockStatus = "scheduled"
	BlockRecording    BlockStatus = "recording"
	BlockRecorded     BlockStatus = "recorded"
	BlockTranscribing BlockStatus = "transcribing"
	BlockTranscribed  BlockStatus = "transcribed"
	BlockSummarizing  BlockStatus = "summarizing"
	BlockCompleted    BlockStatus = "completed"
	BlockFailed       BlockStatus = "failed"
)

var blockOrder = []BlockStatus{
	BlockScheduled,
	BlockRecording,
	BlockRecorded,
	BlockTranscribing,
	BlockTranscribed,
	BlockSummarizing,
	BlockCompleted,
}

// BlockStatuses returns every block status in forward order followed by failed.
func BlockStatuses() []BlockStatus {
	out := make([]BlockStatus, 0, len(blockOrder)+1)
	out = append(out, blockOrder...)
	return append(out, BlockFailed)
}

// Rank returns the forward position of a status, or -1 for failed and unknown values.
func (s BlockStatus) Rank() int {
	for idx, status := range blockOrder {
		if status == s {
			return idx
		}
	}
	return -1
}

// Terminal reports whether no forward transition leaves the status.
func (s BlockStatus) Terminal() bool {
	return s == BlockCompleted
}

// ParseBlockStatus converts a string into a BlockStatus.
func ParseBlockStatus(value string) (BlockStatus, bool) {
	candidate := BlockStatus(strings.ToLower(strings.TrimSpace(value)))
	if candidate == BlockFailed || candidate.Rank() >= 0 {
		return candidate, true
	}
	return "", false
}

// timestampColumn maps a status to the column recording when it was entered.
func (s BlockStatus) timestampColumn() string {
	switch s {
	case BlockRecording:
		return "recording_at"
	case BlockRecorded:
		return "recorded_at"
	case BlockTranscribing:
		return "transcribing_at"
	case BlockTranscribed:
		return "transcribed_at"
	case BlockSummarizing:
		return "summarizing_at"
	case BlockCompleted:
		return "completed_at"
	case BlockFailed:
		return "failed_at"
	default:
		return ""
	}
}

// Block is one recorded segment of a program.
type Block struct {
	ID             int64
	Program        string
	Code           string
	Date           string
	Status         BlockStatus
	FailedFrom     BlockStatus
	ErrorMessage   string
	AudioPath      string
	TranscriptPath string
	Summary        string
	SummaryFormat  string
	Participants   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Transitions records when each status was last entered.
	Transitions    map[BlockStatus]time.Time
}

// Unit returns the reporting unit the block belongs to.
func (b Block) Unit() Unit {
	return Unit{Program: b.Program, Date: b.Date}
}

// BlockUpdate carries optional metadata written alongside a status change.
// Empty strings and nil pointers leave the stored value untouched.
type BlockUpdate struct {
	AudioPath      string
	TranscriptPath string
	Summary        string
	SummaryFormat  string
	Participants   *int
	ErrorMessage   string
}

// BlockFilter narrows ListBlocks results.
type BlockFilter struct {
	Program  string
	Date     string
	Statuses []BlockStatus
	Limit    int
}

// TaskType enumerates the kinds of queued work.
type TaskType string

const (
	TaskTranscribe   TaskType = "TRANSCRIBE"
	TaskSummarize    TaskType = "SUMMARIZE"
	TaskCreateDigest TaskType = "CREATE_DIGEST"
	TaskSendDigest   TaskType = "SEND_DIGEST"
)

// TaskTypes returns every task type, highest priority first.
func TaskTypes() []TaskType {
	return []TaskType{TaskSendDigest, TaskCreateDigest, TaskSummarize, TaskTranscribe}
}

// Priority orders claims so work closer to delivery drains first.
func (t TaskType) Priority() int {
	switch t {
	case TaskSendDigest:
		return 30
	case TaskCreateDigest:
		return 20
	case TaskSummarize:
		return 10
	default:
		return 0
	}
}

// BlockScoped reports whether the task payload references a block rather than a unit.
func (t TaskType) BlockScoped() bool {
	return t == TaskTranscribe || t == TaskSummarize
}

// ParseTaskType converts a string into a TaskType.
func ParseTaskType(value string) (TaskType, bool) {
	candidate := TaskType(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range TaskTypes() {
		if candidate == known {
			return candidate, true
		}
	}
	return "", false
}

// TaskStatus represents the lifecycle of a queued task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ParseTaskStatus converts a string into a TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	switch candidate := TaskStatus(strings.ToLower(strings.TrimSpace(value))); candidate {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed:
		return candidate, true
	default:
		return "", false
	}
}

// Task is one unit of asynchronous work.
type Task struct {
	ID             int64
	Type           TaskType
	BlockID        int64
	Unit           Unit
	// ClaimToken is set when the orphan sweep hands a building digest to a new execution.
	ClaimToken     string
	Priority       int
	Status         TaskStatus
	Attempts       int
	MaxAttempts    int
	WorkerID       string
	LeaseExpiresAt *time.Time
	AvailableAt    time.Time
	LastError      string
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

// FinalAttempt reports whether a failure of the current attempt exhausts the task.
func (t Task) FinalAttempt() bool {
	return t.Attempts >= t.MaxAttempts
}

// TaskSpec describes a task to enqueue.
type TaskSpec struct {
	Type       TaskType
	BlockID    int64
	Unit       Unit
	ClaimToken string
	// MaxAttempts overrides the store default when positive.
	MaxAttempts int
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Types    []TaskType
	Statuses []TaskStatus
	Unit     Unit
	Limit    int
}

// DigestStatus represents the lifecycle of a digest row.
type DigestStatus string

const (
	DigestBuilding DigestStatus = "building"
	DigestReady    DigestStatus = "ready"
	DigestSent     DigestStatus = "sent"
	DigestFailed   DigestStatus = "failed"
)

// Digest is the aggregated report for one reporting unit.
type Digest struct {
	ID            int64
	Unit          Unit
	Status        DigestStatus
	ClaimToken    string
	ClaimedAt     time.Time
	Content       string
	ContentFormat string
	BlockCount    int
	Participants  int
	Rebuilds      int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ReadyAt       *time.Time
	SentAt        *time.Time
}

// DigestContent is the payload written when a digest is published.
type DigestContent struct {
	Body         string
	Format       string
	BlockCount   int
	Participants int
}

// LockStatus represents the state of a send claim.
type LockStatus string

const (
	LockSending LockStatus = "sending"
	LockSent    LockStatus = "sent"
	LockFailed  LockStatus = "failed"
)

// NotificationLock records the send claim for a reporting unit.
type NotificationLock struct {
	Unit       Unit
	Status     LockStatus
	ClaimToken string
	ClaimedAt  time.Time
	ExpiresAt  time.Time
	SentAt     *time.Time
	Attempts   int
	LastError  string
	Recipients []string
	UpdatedAt  time.Time
}

// DatabaseHealth captures diagnostic information about the database file.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	Error            string
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Failed    int
	Completed int
}

// Stats groups row counts for status output.
type Stats struct {
	Tasks   map[TaskType]map[TaskStatus]int
	Blocks  map[BlockStatus]int
	Digests map[DigestStatus]int
}
