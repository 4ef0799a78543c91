package blocks

import (
	"fmt"

	"radiodigest/internal/store"
)

// DuplicateBlockError reports a second registration of the same block.
type DuplicateBlockError struct {
	Program string
	Code    string
	Date    string
}

func (e *DuplicateBlockError) Error() string {
	return fmt.Sprintf("block %s/%s/%s already exists", e.Program, e.Date, e.Code)
}

// InvalidTransitionError reports a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	BlockID int64
	From    store.BlockStatus
	To      store.BlockStatus
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("block %d: invalid transition %s -> %s", e.BlockID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
