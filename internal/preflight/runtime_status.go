package preflight

import (
	"fmt"
	"log/slog"
	"strings"

	"radiodigest/internal/logging"
)

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Summary renders a one-line pass/fail overview such as "4/6 passed (SMTP relay failed)".
func Summary(results []Result) string {
	failed := Failed(results)
	line := fmt.Sprintf("%d/%d passed", len(results)-len(failed), len(results))
	if len(failed) == 0 {
		return line
	}
	names := make([]string, 0, len(failed))
	for _, result := range failed {
		names = append(names, result.Name)
	}
	return fmt.Sprintf("%s (%s failed)", line, strings.Join(names, ", "))
}

// LogResults writes one warning per failed check and a debug line per passed one.
func LogResults(logger *slog.Logger, results []Result) {
	if logger == nil {
		return
	}
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration and rerun radiodigest status"),
			logging.String(logging.FieldImpact, "digests may not be produced or delivered"),
		)
	}
}
