package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/dispatch"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/sym"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Jobs + " Inspect split planning and partition read jobs",
	Long: sym.Jobs + ` jobs - the dispatch queue

Examples:
  tablescan jobs ls                   # List recent jobs
  tablescan jobs ls --status failed   # Only failed jobs
  tablescan jobs status <job-id>      # Show a job and its partition reads
  tablescan jobs cancel <job-id>      # Cancel a job and its unfinished reads
  tablescan jobs stats                # Counts per status
  tablescan jobs cleanup --older-than 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runJobsLs(cmd.Context(), cfg, status, limit, cmd.OutOrStdout())
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job and its child jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runJobsStatus(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withQueue(cfg, func(q *dispatch.Queue) error {
			if err := q.CancelJob(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			pterm.Success.Printfln("Cancelled job %s", args[0])
			return nil
		})
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withQueue(cfg, func(q *dispatch.Queue) error {
			stats, err := q.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			data := pterm.TableData{
				{"STATUS", "JOBS"},
				{string(dispatch.JobStatusQueued), fmt.Sprint(stats.Queued)},
				{string(dispatch.JobStatusRunning), fmt.Sprint(stats.Running)},
				{string(dispatch.JobStatusCompleted), fmt.Sprint(stats.Completed)},
				{string(dispatch.JobStatusFailed), fmt.Sprint(stats.Failed)},
				{string(dispatch.JobStatusCancelled), fmt.Sprint(stats.Cancelled)},
				{"total", fmt.Sprint(stats.Total)},
			}
			return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
		})
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withQueue(cfg, func(q *dispatch.Queue) error {
			n, err := q.Cleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Deleted %d finished job(s)", n)
			return nil
		})
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (queued, running, completed, failed, cancelled)")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	jobsCancelCmd.Flags().String("reason", "cancelled from the command line", "Reason recorded on the job")
	jobsCleanupCmd.Flags().Duration("older-than", 7*24*time.Hour, "Minimum age of the jobs to delete")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

func withQueue(cfg *am.Config, fn func(*dispatch.Queue) error) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(dispatch.NewQueue(database))
}

func runJobsLs(ctx context.Context, cfg *am.Config, statusFilter string, limit int, out io.Writer) error {
	var status *dispatch.JobStatus
	if statusFilter != "" {
		if !dispatch.IsValidStatus(statusFilter) {
			return errors.WithHint(errors.NewInvalidRequestError("unknown job status %q", statusFilter),
				"use queued, running, completed, failed or cancelled")
		}
		s := dispatch.JobStatus(statusFilter)
		status = &s
	}

	return withQueue(cfg, func(q *dispatch.Queue) error {
		jobs, err := q.ListJobs(ctx, status, limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintf(out, "%s No jobs found\n", sym.Jobs)
			return nil
		}
		if err := renderJobs(out, jobs); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nTotal: %d job(s)\n", len(jobs))
		return nil
	})
}

func runJobsStatus(ctx context.Context, cfg *am.Config, jobID string, out io.Writer) error {
	return withQueue(cfg, func(q *dispatch.Queue) error {
		job, err := q.GetJob(ctx, jobID)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Job ID: %s\n", sym.Jobs, job.ID)
		fmt.Fprintf(out, "  Handler:  %s\n", job.HandlerName)
		fmt.Fprintf(out, "  Source:   %s\n", job.Source)
		fmt.Fprintf(out, "  Status:   %s\n", job.Status)
		fmt.Fprintf(out, "  Progress: %s\n", formatProgress(job.Progress))
		if job.RetryCount > 0 {
			fmt.Fprintf(out, "  Retries:  %d\n", job.RetryCount)
		}
		if job.ParentJobID != "" {
			fmt.Fprintf(out, "  Parent:   %s\n", job.ParentJobID)
		}
		if job.Error != "" {
			fmt.Fprintf(out, "  Error:    %s\n", job.Error)
		}
		fmt.Fprintf(out, "  Created:  %s\n", job.CreatedAt.Local().Format(time.RFC3339))
		if job.CompletedAt != nil {
			fmt.Fprintf(out, "  Finished: %s\n", job.CompletedAt.Local().Format(time.RFC3339))
		}

		children, err := q.ListTasksByParent(ctx, job.ID)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		return renderJobs(out, children)
	})
}

func renderJobs(out io.Writer, jobs []*dispatch.Job) error {
	data := pterm.TableData{{"JOB ID", "STATUS", "HANDLER", "PROGRESS", "CREATED"}}
	for _, job := range jobs {
		data = append(data, []string{
			job.ID,
			string(job.Status),
			job.HandlerName,
			formatProgress(job.Progress),
			job.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}

func formatProgress(p dispatch.Progress) string {
	if p.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", p.Current, p.Total, p.Percentage())
}
