package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"radiodigest/internal/config"
	"radiodigest/internal/daemon"
	"radiodigest/internal/store"
)

func newBlockCommand(ctx *commandContext) *cobra.Command {
	blockCmd := &cobra.Command{
		Use:   "block",
		Short: "Register and advance recorded blocks",
	}

	blockCmd.AddCommand(newBlockCreateCommand(ctx))
	blockCmd.AddCommand(newBlockTransitionCommand(ctx))
	blockCmd.AddCommand(newBlockRetryCommand(ctx))
	blockCmd.AddCommand(newBlockListCommand(ctx))
	blockCmd.AddCommand(newBlockShowCommand(ctx))

	return blockCmd
}

func newBlockCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <program> <block-code> <date>",
		Short: "Register a scheduled block",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, _ *store.Store, c *daemon.Components) error {
				block, err := c.Tracker.Create(cmd.Context(), args[0], strings.TrimSpace(args[1]), strings.TrimSpace(args[2]))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, blockView(block))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Block %d registered (%s %s %s)\n", block.ID, block.Program, block.Date, block.Code)
				return nil
			})
		},
	}
}

func newBlockTransitionCommand(ctx *commandContext) *cobra.Command {
	var audioPath string
	var errorMessage string

	cmd := &cobra.Command{
		Use:   "transition <block-id> <status>",
		Short: "Move a block to a later status",
		Long: "Move a block forward. Statuses: scheduled, recording, recorded, transcribing,\n" +
			"transcribed, summarizing, completed, failed. Entering recorded schedules transcription;\n" +
			"pass --audio with the recorded file.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			status, ok := store.ParseBlockStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown block status %q", args[1])
			}
			if status == store.BlockRecorded && strings.TrimSpace(audioPath) == "" {
				return errors.New("--audio is required when marking a block recorded")
			}
			return ctx.withComponents(func(_ *config.Config, _ *store.Store, c *daemon.Components) error {
				var block *store.Block
				if status == store.BlockFailed {
					block, err = c.Tracker.Fail(cmd.Context(), ids[0], "recorder", errors.New(errorMessageOr(errorMessage)))
				} else {
					block, err = c.Tracker.Transition(cmd.Context(), ids[0], status, store.BlockUpdate{AudioPath: strings.TrimSpace(audioPath)})
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, blockView(block))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Block %d is now %s\n", block.ID, block.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Recorded audio file (required for recorded)")
	cmd.Flags().StringVar(&errorMessage, "error", "", "Failure reason (for failed)")
	return cmd
}

func errorMessageOr(message string) string {
	if trimmed := strings.TrimSpace(message); trimmed != "" {
		return trimmed
	}
	return "reported by recorder"
}

func newBlockRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <block-id>...",
		Short: "Return failed blocks to the start of the stage that failed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withComponents(func(_ *config.Config, _ *store.Store, c *daemon.Components) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, id := range ids {
					block, err := c.Tracker.Retry(cmd.Context(), id)
					if err != nil {
						errs = append(errs, fmt.Errorf("block %d: %w", id, err))
						continue
					}
					fmt.Fprintf(out, "Block %d returned to %s\n", block.ID, block.Status)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newBlockListCommand(ctx *commandContext) *cobra.Command {
	var program string
	var date string
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.BlockFilter{Program: strings.TrimSpace(program), Date: strings.TrimSpace(date), Limit: limit}
			for _, value := range statuses {
				status, ok := store.ParseBlockStatus(value)
				if !ok {
					return fmt.Errorf("unknown block status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				blocks, err := st.ListBlocks(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					views := make([]blockJSON, 0, len(blocks))
					for _, block := range blocks {
						views = append(views, blockView(block))
					}
					return writeJSON(cmd, views)
				}
				if len(blocks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No blocks found")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(blocks))
				for _, block := range blocks {
					rows = append(rows, []string{
						strconv.FormatInt(block.ID, 10),
						block.Program,
						block.Date,
						block.Code,
						colorStatus(string(block.Status), colorize),
						formatWhen(block.UpdatedAt),
						truncate(block.ErrorMessage, 40),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Program", "Date", "Code", "Status", "Updated", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&program, "program", "p", "", "Filter by program key")
	cmd.Flags().StringVarP(&date, "date", "d", "", "Filter by reporting date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by block status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to show")
	return cmd
}

func newBlockShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <block-id>",
		Short: "Show one block and its transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				block, err := st.GetBlock(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, blockView(block))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Block %d: %s %s %s\n", block.ID, block.Program, block.Date, block.Code)
				fmt.Fprintf(out, "Status:       %s\n", block.Status)
				if block.FailedFrom != "" {
					fmt.Fprintf(out, "Failed from:  %s\n", block.FailedFrom)
				}
				if block.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:        %s\n", block.ErrorMessage)
				}
				fmt.Fprintf(out, "Audio:        %s\n", valueOrDash(block.AudioPath))
				fmt.Fprintf(out, "Transcript:   %s\n", valueOrDash(block.TranscriptPath))
				fmt.Fprintf(out, "Participants: %d\n", block.Participants)
				rows := make([][]string, 0, len(block.Transitions))
				for _, status := range store.BlockStatuses() {
					at, ok := block.Transitions[status]
					if !ok {
						continue
					}
					rows = append(rows, []string{string(status), at.Format("2006-01-02 15:04:05"), formatWhen(at)})
				}
				if len(rows) > 0 {
					fmt.Fprint(out, renderTable([]string{"Status", "Entered", "Ago"}, rows, nil))
					fmt.Fprintln(out)
				}
				if block.Summary != "" {
					fmt.Fprintf(out, "\nSummary (%s):\n%s\n", block.SummaryFormat, block.Summary)
				}
				return nil
			})
		},
	}
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
