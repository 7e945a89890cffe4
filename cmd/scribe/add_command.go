package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/queue"
	"scribe/internal/videoid"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "add [url...]",
		Short: "Queue YouTube URLs for transcription",
		Long: "Queue one or more YouTube URLs. With --file, URLs are read from a\n" +
			".txt or .csv file instead; non-URL lines are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if fromFile != "" {
				parsed, err := videoid.ParseFile(fromFile)
				if err != nil {
					return fmt.Errorf("read url file: %w", err)
				}
				urls = append(urls, parsed...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs given; pass them as arguments or with --file")
			}

			return ctx.withStore(func(api *apiClient, store *queue.Store) error {
				out := cmd.OutOrStdout()
				var failures int
				for _, rawURL := range urls {
					rawURL = strings.TrimSpace(rawURL)
					if rawURL == "" {
						continue
					}
					videoID, status, err := enqueue(cmd, api, store, rawURL)
					if err != nil {
						failures++
						fmt.Fprintf(out, "skipped %s: %v\n", rawURL, err)
						continue
					}
					fmt.Fprintf(out, "queued %s (%s)\n", videoID, status)
				}
				if failures == len(urls) {
					return fmt.Errorf("no URLs could be queued")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read URLs from a .txt or .csv file")
	return cmd
}

func enqueue(cmd *cobra.Command, api *apiClient, store *queue.Store, rawURL string) (videoID, status string, err error) {
	if api != nil {
		job, err := api.addJob(rawURL)
		if err != nil {
			return "", "", err
		}
		return job.VideoID, job.Status, nil
	}

	videoID, err = videoid.Validate(rawURL)
	if err != nil {
		return "", "", err
	}
	job, err := store.NewJob(cmd.Context(), rawURL, videoID)
	if err != nil {
		return "", "", err
	}
	return job.VideoID, string(job.Status), nil
}
