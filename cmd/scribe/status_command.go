package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"scribe/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(api *apiClient, store *queue.Store) error {
				out := cmd.OutOrStdout()

				counts := map[string]int{}
				if api != nil {
					status, err := api.status()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Daemon: running (worker active: %s)\n", yesNo(status.Running))
					counts = status.Queue
				} else {
					fmt.Fprintln(out, "Daemon: not running")
					stats, err := store.Stats(cmd.Context())
					if err != nil {
						return err
					}
					for status, n := range stats {
						counts[string(status)] = n
					}
				}

				rows := buildStatusRows(counts)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				table := renderTable([]column{{header: "Status"}, {header: "Count", numeric: true}}, rows)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var afterCurrent bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the daemon to stop processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			api := dialAPI(cfg)
			if api == nil {
				return fmt.Errorf("no daemon is listening on %s", cfg.APIBind)
			}
			if err := api.stop(afterCurrent); err != nil {
				return err
			}
			if afterCurrent {
				fmt.Fprintln(cmd.OutOrStdout(), "daemon will stop after the current job")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "stop requested; the current job will requeue")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&afterCurrent, "after-current", false, "Finish the running job before stopping")
	return cmd
}

// buildStatusRows orders counts in pipeline order, unknown statuses last.
func buildStatusRows(counts map[string]int) [][]string {
	order := []string{
		string(queue.StatusQueued),
		string(queue.StatusRunning),
		string(queue.StatusCompleted),
		string(queue.StatusFailed),
		string(queue.StatusSkipped),
	}
	seen := map[string]bool{}
	var rows [][]string
	for _, status := range order {
		if n, ok := counts[status]; ok && n > 0 {
			rows = append(rows, []string{status, countCell(n)})
			seen[status] = true
		}
	}

	var rest []string
	for status, n := range counts {
		if !seen[status] && n > 0 {
			rest = append(rest, status)
		}
	}
	sort.Strings(rest)
	for _, status := range rest {
		rows = append(rows, []string{status, countCell(counts[status])})
	}
	return rows
}
