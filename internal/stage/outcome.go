package stage

import (
	"errors"
	"fmt"
	"time"

	"radiodigest/internal/services"
	"radiodigest/internal/store"
)

// Kind classifies how a handler invocation ended.
type Kind int

const (
	// Success completes the task and inserts any follow-on tasks.
	Success Kind = iota
	// TransientFailure retries the task after backoff while attempts remain.
	TransientFailure
	// PermanentFailure fails the task immediately.
	PermanentFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case TransientFailure:
		return "transient"
	case PermanentFailure:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result a handler hands back to the worker.
type Outcome struct {
	Kind      Kind
	FollowOns []store.TaskSpec
	Err       error
	// Note is a short operator-facing explanation for successes that did no work,
	// such as a lost claim.
	Note string
	// RetryAfter is the earliest a transient failure may be retried. The worker waits
	// for the longer of this and its backoff.
	RetryAfter time.Duration
}

// Succeed returns a success outcome that enqueues followOns when the task completes.
func Succeed(followOns ...store.TaskSpec) Outcome {
	return Outcome{Kind: Success, FollowOns: followOns}
}

// Skip returns a success outcome that records why nothing was done.
func Skip(note string) Outcome {
	return Outcome{Kind: Success, Note: note}
}

// Transient returns a retryable failure.
func Transient(err error) Outcome {
	if err == nil {
		err = errors.New("transient failure")
	}
	return Outcome{Kind: TransientFailure, Err: err}
}

// TransientAfter returns a retryable failure that must not be retried before delay.
func TransientAfter(err error, delay time.Duration) Outcome {
	outcome := Transient(err)
	if delay > 0 {
		outcome.RetryAfter = delay
	}
	return outcome
}

// Permanent returns a failure that must not be retried.
func Permanent(err error) Outcome {
	if err == nil {
		err = errors.New("permanent failure")
	}
	return Outcome{Kind: PermanentFailure, Err: err}
}

// Classify maps an error to an outcome. Validation, configuration, not-found, and
// permanent markers fail the task; every other error is retried.
func Classify(err error) Outcome {
	if err == nil {
		return Succeed()
	}
	if services.IsPermanent(err) {
		return Permanent(err)
	}
	return Transient(err)
}

// Message returns the error text carried by the outcome, or the note for successes.
func (o Outcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Note
}
