package blocks

import (
	"fmt"

	"radiodigest/internal/store"
)

// RetryTarget returns the status a failed block returns to: the start of the stage
// that failed.
func RetryTarget(failedFrom store.BlockStatus) store.BlockStatus {
	switch failedFrom {
	case store.BlockRecorded, store.BlockTranscribing:
		return store.BlockRecorded
	case store.BlockTranscribed, store.BlockSummarizing:
		return store.BlockTranscribed
	default:
		return store.BlockScheduled
	}
}

// checkTransition returns a reason when moving from current to next is not allowed.
func checkTransition(current, failedFrom, next store.BlockStatus) string {
	if _, ok := store.ParseBlockStatus(string(next)); !ok {
		return fmt.Sprintf("unknown status %q", next)
	}
	switch {
	case current == store.BlockFailed:
		if want := RetryTarget(failedFrom); next != want {
			return fmt.Sprintf("failed blocks retry to %s", want)
		}
		return ""
	case next == store.BlockFailed:
		if current.Terminal() {
			return "block already completed"
		}
		return ""
	case next.Rank() <= current.Rank():
		return "status must move forward"
	default:
		return ""
	}
}

// followOn returns the task entering next schedules.
func followOn(blockID int64, next store.BlockStatus) *store.TaskSpec {
	switch next {
	case store.BlockRecorded:
		return &store.TaskSpec{Type: store.TaskTranscribe, BlockID: blockID}
	case store.BlockTranscribed:
		return &store.TaskSpec{Type: store.TaskSummarize, BlockID: blockID}
	default:
		return nil
	}
}
