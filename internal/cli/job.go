// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chcoord/etl-core/internal/core"
	"github.com/chcoord/etl-core/internal/domain"
	"github.com/chcoord/etl-core/internal/orchestrator"
)

// newJobCommand groups job-control subcommands, per §4.9/§6:
// `job run`, `job cancel`, `job status`.
func newJobCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run and inspect ETL jobs",
	}

	cmd.AddCommand(newJobRunCommand(flags))
	cmd.AddCommand(newJobCancelCommand(flags))
	cmd.AddCommand(newJobStatusCommand(flags))

	return cmd
}

// newJobRunCommand discovers and processes the watched directory once,
// blocking until the job reaches a terminal state, per §4.9.
func newJobRunCommand(flags *rootFlags) *cobra.Command {
	var (
		forceReprocess bool
		latestOnly     bool
		pullFirst      bool
		maxWorkers     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover files in the watched directory and process them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			c, err := core.Init(ctx, flags.buildConfig(), domain.NoopEventSink{})
			if err != nil {
				return fmt.Errorf("initialize core: %w", err)
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer shutdownCancel()
				_ = c.Shutdown(shutdownCtx)
			}()

			opts := orchestrator.StartOptions{
				ForceReprocess: forceReprocess, LatestOnly: latestOnly,
				MaxWorkers: maxWorkers, Trigger: domain.TriggerManual, TriggeredBy: "cli",
			}

			var jobID string
			if pullFirst {
				jobID, _, err = c.StartJobWithPull(ctx, opts)
			} else {
				jobID, err = c.StartJob(ctx, opts)
			}
			if err != nil {
				return fmt.Errorf("start job: %w", err)
			}

			return awaitTerminal(cmd, c, jobID)
		},
	}

	cmd.Flags().BoolVar(&forceReprocess, "force", false, "reprocess files even if already completed")
	cmd.Flags().BoolVar(&latestOnly, "latest-only", false, "process only the newest file per table")
	cmd.Flags().BoolVar(&pullFirst, "pull", false, "pull new files from the configured SFTP endpoint first")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 4, "maximum concurrent File Workers")

	return cmd
}

func awaitTerminal(cmd *cobra.Command, c *core.Core, jobID string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s started\n", jobID)

	for {
		job, err := c.Orchestrator.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			fmt.Fprintf(out, "job %s finished: status=%s completed=%d failed=%d skipped=%d\n",
				jobID, job.Status, job.CompletedFiles, job.FailedFiles, job.SkippedFiles)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// newJobCancelCommand is a thin client expected to run against a
// long-lived process; since etlcore has no daemon/IPC surface in this
// repo (§1 Non-goals), this subcommand documents the orchestrator API a
// host process would call and exits with a clear message.
func newJobCancelCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("cancel requires a running etlcore process; embed internal/core.Core and call Orchestrator.CancelJob(%q) from your host process", args[0])
		},
	}
}

// newJobStatusCommand is the same kind of thin client as job cancel.
func newJobStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("status requires a running etlcore process; embed internal/core.Core and call Orchestrator.GetJob(%q) from your host process", args[0])
		},
	}
}
