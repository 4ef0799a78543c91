package stage

import "time"

// Action is what the worker does with a finished task.
type Action int

const (
	ActionComplete Action = iota
	ActionRetry
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionRetry:
		return "retry"
	default:
		return "fail"
	}
}

// Decision pairs an action with the delay before the task becomes claimable again.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// RetryPolicy holds the exponential backoff bounds for transient failures.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Decide maps an outcome and the attempt counters to an action. It has no side effects.
func (p RetryPolicy) Decide(outcome Outcome, attempts, maxAttempts int) Decision {
	switch outcome.Kind {
	case Success:
		return Decision{Action: ActionComplete}
	case TransientFailure:
		if attempts < maxAttempts {
			delay := p.Backoff(attempts)
			if outcome.RetryAfter > delay {
				delay = outcome.RetryAfter
			}
			return Decision{Action: ActionRetry, Delay: delay}
		}
		return Decision{Action: ActionFail}
	default:
		return Decision{Action: ActionFail}
	}
}

// Backoff returns Base doubled once per prior attempt, capped at Max.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
