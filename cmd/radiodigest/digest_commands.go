package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"radiodigest/internal/config"
	"radiodigest/internal/coordination"
	"radiodigest/internal/daemon"
	"radiodigest/internal/digest"
	"radiodigest/internal/store"
)

func newDigestCommand(ctx *commandContext) *cobra.Command {
	digestCmd := &cobra.Command{
		Use:   "digest",
		Short: "Inspect, evaluate, and recover daily digests",
	}

	digestCmd.AddCommand(newDigestListCommand(ctx))
	digestCmd.AddCommand(newDigestShowCommand(ctx))
	digestCmd.AddCommand(newDigestCheckCommand(ctx))
	digestCmd.AddCommand(newDigestRetryCommand(ctx))
	digestCmd.AddCommand(newDigestSweepCommand(ctx))

	return digestCmd
}

func parseUnit(cfg *config.Config, args []string) (store.Unit, error) {
	unit := store.Unit{Program: strings.TrimSpace(args[0]), Date: strings.TrimSpace(args[1])}
	if _, ok := cfg.Program(unit.Program); !ok {
		return unit, fmt.Errorf("unknown program %q (configured: %s)", unit.Program, strings.Join(cfg.ProgramKeys(), ", "))
	}
	if _, err := store.ParseDate(unit.Date); err != nil {
		return unit, err
	}
	return unit, nil
}

func newDigestListCommand(ctx *commandContext) *cobra.Command {
	var program string
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []store.DigestStatus
			for _, value := range statuses {
				filter = append(filter, store.DigestStatus(strings.ToLower(strings.TrimSpace(value))))
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				digests, err := st.ListDigests(cmd.Context(), strings.TrimSpace(program), filter, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					views := make([]digestJSON, 0, len(digests))
					for _, dg := range digests {
						views = append(views, digestView(dg, false))
					}
					return writeJSON(cmd, views)
				}
				if len(digests) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No digests found")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(digests))
				for _, dg := range digests {
					rows = append(rows, []string{
						dg.Unit.Program,
						dg.Unit.Date,
						colorStatus(string(dg.Status), colorize),
						strconv.Itoa(dg.BlockCount),
						strconv.Itoa(dg.Participants),
						strconv.Itoa(dg.Rebuilds),
						formatWhenPtr(dg.SentAt),
						truncate(dg.ErrorMessage, 40),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Program", "Date", "Status", "Blocks", "Participants", "Rebuilds", "Sent", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&program, "program", "p", "", "Filter by program key")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by digest status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	return cmd
}

func newDigestShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <program> <date>",
		Short: "Show a digest, its content, and its delivery lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				unit, err := parseUnit(cfg, args)
				if err != nil {
					return err
				}
				dg, err := st.GetDigest(cmd.Context(), unit)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no digest for %s", unit)
					}
					return err
				}
				lock, err := st.GetSendLock(cmd.Context(), unit)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, digestView(dg, true))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Digest %s\n", unit)
				fmt.Fprintf(out, "Status:       %s\n", dg.Status)
				fmt.Fprintf(out, "Blocks:       %d\n", dg.BlockCount)
				fmt.Fprintf(out, "Participants: %d\n", dg.Participants)
				fmt.Fprintf(out, "Rebuilds:     %d\n", dg.Rebuilds)
				fmt.Fprintf(out, "Claimed:      %s\n", formatWhen(dg.ClaimedAt))
				if dg.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:        %s\n", dg.ErrorMessage)
				}
				if lock != nil {
					fmt.Fprintf(out, "Delivery:     %s (attempts %d, sent %s, recipients %s)\n",
						lock.Status, lock.Attempts, formatWhenPtr(lock.SentAt), strings.Join(lock.Recipients, ", "))
					if lock.LastError != "" {
						fmt.Fprintf(out, "Last error:   %s\n", lock.LastError)
					}
				}
				if program, ok := cfg.Program(unit.Program); ok && dg.Content != "" {
					fmt.Fprintf(out, "\nSubject: %s\n\n%s\n", digest.Subject(program, unit.Date), dg.Content)
				}
				return nil
			})
		},
	}
}

func newDigestCheckCommand(ctx *commandContext) *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "check <program> <date>",
		Short: "Evaluate whether a reporting unit is eligible for its digest",
		Long: "Evaluate counts the unit's blocks against the program's configured block codes.\n" +
			"With --enqueue the evaluation runs as the time trigger and enqueues digest creation\n" +
			"when eligible and permitted by coordination.authority.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(cfg *config.Config, _ *store.Store, c *daemon.Components) error {
				unit, err := parseUnit(cfg, args)
				if err != nil {
					return err
				}
				var eval digest.Evaluation
				if enqueue {
					eval, err = c.Detector.Check(cmd.Context(), unit, coordination.TriggerTime)
				} else {
					eval, err = c.Detector.Evaluate(cmd.Context(), unit)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, eval)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Unit:      %s\n", unit)
				fmt.Fprintf(out, "Blocks:    %d registered, %d completed, %d expected\n", eval.Total, eval.Completed, eval.Expected)
				fmt.Fprintf(out, "Eligible:  %s\n", yesNo(eval.Eligible))
				if enqueue {
					fmt.Fprintf(out, "Permitted: %s\n", yesNo(eval.Permitted))
					fmt.Fprintf(out, "Enqueued:  %s\n", yesNo(eval.Enqueued))
				}
				if eval.Reason != "" {
					fmt.Fprintf(out, "Reason:    %s\n", eval.Reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Enqueue digest creation when eligible")
	return cmd
}

func newDigestRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <program> <date>",
		Short: "Discard a failed digest and enqueue a new build",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(cfg *config.Config, _ *store.Store, c *daemon.Components) error {
				unit, err := parseUnit(cfg, args)
				if err != nil {
					return err
				}
				reset, err := c.Sweeper.Retry(cmd.Context(), unit)
				if err != nil {
					return err
				}
				if !reset {
					return fmt.Errorf("digest %s is not failed", unit)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Digest %s queued for rebuild\n", unit)
				return nil
			})
		},
	}
}

func newDigestSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one orphan sweep over stale building digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, _ *store.Store, c *daemon.Components) error {
				orphans, err := c.Sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, orphans)
				}
				if len(orphans) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No orphaned digests")
					return nil
				}
				rows := make([][]string, 0, len(orphans))
				for _, orphan := range orphans {
					rows = append(rows, []string{
						orphan.Unit.Program,
						orphan.Unit.Date,
						formatWhen(orphan.ClaimedAt),
						strconv.Itoa(orphan.Rebuilds),
						orphan.Action,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Program", "Date", "Claimed", "Rebuilds", "Action"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}
