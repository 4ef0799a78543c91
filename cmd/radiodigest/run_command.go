package main

import (
	"github.com/spf13/cobra"

	"radiodigest/internal/daemon"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var roleFlag string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline workers, the scheduler, or both in the foreground",
		Long: "Run starts a long-lived radiodigest process. Workers claim and execute tasks from the\n" +
			"shared store; any number of worker processes may run at once. The scheduler evaluates\n" +
			"per-program digest schedules and sweeps orphaned digests; only one scheduler runs per\n" +
			"data directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := daemon.ParseRole(roleFlag)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemon.Run(cmd.Context(), cfg, daemon.Options{LogLevel: logLevel, Role: role})
		},
	}

	cmd.Flags().StringVar(&roleFlag, "role", string(daemon.RoleAll), "Process role: worker, scheduler, or all")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}
