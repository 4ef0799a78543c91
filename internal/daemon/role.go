package daemon

import (
	"fmt"
	"strings"
)

// Role selects which loops a process runs.
type Role string

const (
	RoleWorker    Role = "worker"
	RoleScheduler Role = "scheduler"
	RoleAll       Role = "all"
)

// ParseRole converts a flag value into a Role.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleWorker:
		return RoleWorker, nil
	case RoleScheduler:
		return RoleScheduler, nil
	case RoleAll, "":
		return RoleAll, nil
	default:
		return "", fmt.Errorf("unknown role %q (want %s, %s, or %s)", value, RoleWorker, RoleScheduler, RoleAll)
	}
}

// RunsWorkers reports whether the role claims and executes tasks.
func (r Role) RunsWorkers() bool {
	return r == RoleWorker || r == RoleAll
}

// RunsScheduler reports whether the role runs the time trigger and orphan sweep.
func (r Role) RunsScheduler() bool {
	return r == RoleScheduler || r == RoleAll
}
