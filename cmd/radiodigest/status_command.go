package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"radiodigest/internal/config"
	"radiodigest/internal/preflight"
	"radiodigest/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue, block, and digest counts plus readiness checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				dbHealth, dbErr := st.CheckHealth(cmd.Context())
				var checks []preflight.Result
				if !skipChecks {
					checks = preflight.RunAll(cmd.Context(), cfg)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"authority": cfg.Coordination.Authority,
						"database":  dbHealth,
						"stats":     stats,
						"checks":    checks,
					})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				renderStatus(out, cfg, stats, dbHealth, dbErr, checks, colorize)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&skipChecks, "no-checks", false, "Skip preflight checks")
	return cmd
}

func renderStatus(out io.Writer, cfg *config.Config, stats store.Stats, dbHealth store.DatabaseHealth, dbErr error, checks []preflight.Result, colorize bool) {
	fmt.Fprintf(out, "Authority: %s\n", cfg.Coordination.Authority)
	fmt.Fprintf(out, "Programs:  %s\n", strings.Join(cfg.ProgramKeys(), ", "))
	dbState := "ok"
	if dbErr != nil {
		dbState = dbErr.Error()
	} else if !dbHealth.IntegrityCheck {
		dbState = "integrity check failed"
	}
	fmt.Fprintf(out, "Database:  %s (schema v%d, %s)\n\n", dbHealth.DBPath, dbHealth.SchemaVersion, dbState)

	taskRows := make([][]string, 0, len(stats.Tasks))
	for _, taskType := range store.TaskTypes() {
		counts := stats.Tasks[taskType]
		taskRows = append(taskRows, []string{
			string(taskType),
			strconv.Itoa(counts[store.TaskPending]),
			strconv.Itoa(counts[store.TaskRunning]),
			strconv.Itoa(counts[store.TaskCompleted]),
			strconv.Itoa(counts[store.TaskFailed]),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Task", "Pending", "Running", "Completed", "Failed"},
		taskRows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(out)

	fmt.Fprintln(out, countLine("Blocks", blockCounts(stats), colorize))
	fmt.Fprintln(out, countLine("Digests", digestCounts(stats), colorize))

	if len(checks) == 0 {
		return
	}
	fmt.Fprintf(out, "\nChecks: %s\n", preflight.Summary(checks))
	rows := make([][]string, 0, len(checks))
	for _, check := range checks {
		state := "ok"
		if !check.Passed {
			state = "failed"
		}
		if colorize {
			if check.Passed {
				state = ansiGreen + state + ansiReset
			} else {
				state = ansiRed + state + ansiReset
			}
		}
		rows = append(rows, []string{check.Name, state, check.Detail})
	}
	fmt.Fprint(out, renderTable([]string{"Check", "State", "Detail"}, rows, nil))
	fmt.Fprintln(out)
}

func blockCounts(stats store.Stats) map[string]int {
	counts := make(map[string]int, len(stats.Blocks))
	for status, count := range stats.Blocks {
		counts[string(status)] = count
	}
	return counts
}

func digestCounts(stats store.Stats) map[string]int {
	counts := make(map[string]int, len(stats.Digests))
	for status, count := range stats.Digests {
		counts[string(status)] = count
	}
	return counts
}

func countLine(label string, counts map[string]int, colorize bool) string {
	if len(counts) == 0 {
		return label + ": none"
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", colorStatus(key, colorize), counts[key]))
	}
	return label + ": " + strings.Join(parts, ", ")
}
