package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"radiodigest/internal/config"
	"radiodigest/internal/store"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and retry pipeline tasks",
	}

	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskRetryCommand(ctx))

	return taskCmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var types []string
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{Limit: limit}
			for _, value := range types {
				taskType, ok := store.ParseTaskType(value)
				if !ok {
					return fmt.Errorf("unknown task type %q", value)
				}
				filter.Types = append(filter.Types, taskType)
			}
			for _, value := range statuses {
				status, ok := store.ParseTaskStatus(value)
				if !ok {
					return fmt.Errorf("unknown task status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				tasks, err := st.ListTasks(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					views := make([]taskJSON, 0, len(tasks))
					for _, task := range tasks {
						views = append(views, taskView(task))
					}
					return writeJSON(cmd, views)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks found")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					subject := task.Unit.String()
					if task.Type.BlockScoped() {
						subject = "block " + strconv.FormatInt(task.BlockID, 10)
					}
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						string(task.Type),
						subject,
						colorStatus(string(task.Status), colorize),
						fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts),
						formatWhen(task.CreatedAt),
						truncate(task.LastError, 40),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Subject", "Status", "Attempts", "Created", "Last Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Filter by task type (repeatable)")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by task status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to show")
	return cmd
}

func newTaskRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Reset failed tasks to pending (all failed tasks when no ids are given)",
		Long: "Reset failed tasks to pending. Tasks for a failed block are skipped by their handler;\n" +
			"use 'radiodigest block retry' for those, and 'radiodigest digest retry' for failed digests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				count, err := st.RetryFailedTasks(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				if count == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed tasks to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d task(s)\n", count)
				return nil
			})
		},
	}
}
