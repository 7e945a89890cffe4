package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(api *apiClient, store *queue.Store) error {
				var rows [][]string
				if api != nil {
					items, err := api.queueList(listStatuses)
					if err != nil {
						return err
					}
					rows = buildQueueRowsFromAPI(items)
				} else {
					statuses, err := parseStatuses(listStatuses)
					if err != nil {
						return err
					}
					items, err := store.List(cmd.Context(), statuses...)
					if err != nil {
						return err
					}
					rows = buildQueueRows(items)
				}

				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]column{
					{header: "ID"}, {header: "Video"}, {header: "Title"},
					{header: "Status"}, {header: "Stage"},
					{header: "Progress", numeric: true}, {header: "Error"},
				}, rows)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (QUEUED, RUNNING, COMPLETED, FAILED, SKIPPED)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(api *apiClient, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("no job with id %s", args[0])
				}
				if job.Status != queue.StatusFailed {
					return fmt.Errorf("job %s is %s; only failed jobs can be retried", job.ID, job.Status)
				}
				job.ResetForRetry()
				if err := store.Update(cmd.Context(), job); err != nil {
					return err
				}
				if err := store.DeleteChunks(cmd.Context(), job.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %s (%s)\n", job.ID, job.VideoID)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job that is not currently running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(api *apiClient, store *queue.Store) error {
				removed, err := store.Remove(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no removable job with id %s (running jobs cannot be removed)", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all queued (not yet started) jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(api *apiClient, store *queue.Store) error {
				n, err := store.ClearQueued(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d queued job(s)\n", n)
				return nil
			})
		},
	}
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func buildQueueRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			job.VideoID,
			truncateCell(job.Title, 40),
			string(job.Status),
			string(job.Stage),
			progressCell(job.ProgressPct),
			job.ErrorCode,
		})
	}
	return rows
}

func buildQueueRowsFromAPI(jobs []jobPayload) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			job.VideoID,
			truncateCell(job.Title, 40),
			job.Status,
			job.Stage,
			progressCell(job.ProgressPct),
			job.ErrorCode,
		})
	}
	return rows
}

