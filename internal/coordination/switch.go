package coordination

import (
	"fmt"
	"strings"
)

// Authority names which trigger is allowed to enqueue digest creation.
type Authority string

const (
	AuthorityCompletionOnly Authority = "completion-trigger-only"
	AuthorityTimeOnly       Authority = "time-trigger-only"
	AuthorityBoth           Authority = "both"
)

// Trigger identifies the caller asking to evaluate a reporting unit.
type Trigger string

const (
	// TriggerCompletion fires when a block reaches the completed status.
	TriggerCompletion Trigger = "completion"
	// TriggerTime fires from the scheduler's periodic evaluation.
	TriggerTime Trigger = "time"
)

// ParseAuthority converts a configured value into an Authority. Unknown values are rejected.
func ParseAuthority(value string) (Authority, error) {
	switch Authority(strings.ToLower(strings.TrimSpace(value))) {
	case AuthorityCompletionOnly:
		return AuthorityCompletionOnly, nil
	case AuthorityTimeOnly:
		return AuthorityTimeOnly, nil
	case AuthorityBoth:
		return AuthorityBoth, nil
	default:
		return "", fmt.Errorf("unrecognized value %q (want %s, %s, or %s)",
			value, AuthorityCompletionOnly, AuthorityTimeOnly, AuthorityBoth)
	}
}

// Switch is the process-wide decision of which triggers are authoritative.
// It is constructed once at startup and passed to every trigger site.
type Switch struct {
	authority Authority
}

// NewSwitch builds a Switch for a validated authority value.
func NewSwitch(value string) (*Switch, error) {
	authority, err := ParseAuthority(value)
	if err != nil {
		return nil, err
	}
	return &Switch{authority: authority}, nil
}

// Authority returns the configured authority. A nil Switch is a wiring bug and panics.
func (s *Switch) Authority() Authority {
	if s == nil {
		panic("coordination: nil Switch (build one with NewSwitch)")
	}
	return s.authority
}

// Permits reports whether trigger may enqueue digest creation. A Switch not built by
// NewSwitch permits nothing.
func (s *Switch) Permits(trigger Trigger) bool {
	switch s.Authority() {
	case AuthorityCompletionOnly:
		return trigger == TriggerCompletion
	case AuthorityTimeOnly:
		return trigger == TriggerTime
	case AuthorityBoth:
		return trigger == TriggerCompletion || trigger == TriggerTime
	default:
		return false
	}
}
