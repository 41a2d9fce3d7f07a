package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/state"
)

var watchCmd = &cobra.Command{
	Use:   "watch <client-id>",
	Short: "Follow pending render jobs for a client",
	Long: `Watch resumes the snapshot's pending render jobs and polls until all
of them finish. With --live it follows the service's websocket feed
instead, applying job and session updates as they are pushed and
falling back to polling when the stream drops.`,
	Example: `  scenesync watch client-8f2
  scenesync watch client-8f2 --live --save-assets`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchLive    bool
	watchAssets  bool
	watchTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchLive, "live", false,
		"Follow the live feed instead of polling")
	watchCmd.Flags().BoolVar(&watchAssets, "save-assets", false,
		"Download images for jobs that complete while watching")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0,
		"Give up after this long (0 waits forever)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	clientID := args[0]

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	snap, err := apiClient.Resume(clientID)
	if err != nil {
		if errors.Is(err, state.ErrSnapshotNotFound) {
			return fmt.Errorf("no snapshot for %s: run pull first", clientID)
		}
		return err
	}

	if !watchLive && len(snap.PendingJobs) == 0 {
		printInfo("No pending render jobs for %s", clientID)
		return nil
	}

	if watchTimeout > 0 {
		var cancelWait context.CancelFunc
		ctx, cancelWait = context.WithTimeout(ctx, watchTimeout)
		defer cancelWait()
	}

	if watchLive {
		if !jsonOutput {
			printInfo("Following live feed for %s", clientID)
		}
		err = apiClient.WatchLive(ctx, clientID)
	} else {
		if !jsonOutput {
			printInfo("Watching %d render job(s)", len(snap.PendingJobs))
		}
		err = apiClient.WaitForJobs(ctx)
	}

	if saveErr := apiClient.SaveSnapshot(clientID); saveErr != nil {
		logger.WithError(saveErr).Warn("Failed to save snapshot")
	}

	// Interrupts end the watch, not the command's usefulness; report
	// whatever the jobs reached before the cancel.
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return reportJobs(ctx, clientID, snap.PendingJobs)
}

// reportJobs prints the final state of each watched job, downloading
// rendered images when --save-assets was given.
func reportJobs(ctx context.Context, clientID string, pending []state.PendingJob) error {
	tree := apiClient.Workspace.Get()

	type jobResult struct {
		JobID   string          `json:"job_id"`
		Status  models.JobState `json:"status"`
		Images  []string        `json:"images,omitempty"`
		Error   string          `json:"error,omitempty"`
		Saved   []string        `json:"saved,omitempty"`
		Missing bool            `json:"missing,omitempty"`
	}

	var results []jobResult
	for _, job := range pending {
		result := jobResult{JobID: job.JobID}

		msg, err := lookupMessage(tree, job.ProductID, job.SessionID, job.MessageID)
		if err != nil {
			result.Missing = true
			results = append(results, result)
			continue
		}

		result.Status = msg.Status
		result.Images = msg.ImageIDs
		result.Error = msg.Error

		if watchAssets && msg.Status == models.JobCompleted && len(msg.ImageIDs) > 0 {
			saved, err := apiClient.DownloadAssets(ctx, clientID, msg)
			if err != nil {
				logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to download assets")
			}
			result.Saved = saved
		}

		results = append(results, result)
	}

	if jsonOutput {
		printJSON(results)
		return nil
	}

	for _, result := range results {
		switch {
		case result.Missing:
			printWarning("Job %s: message no longer in workspace", result.JobID)
		case result.Status == models.JobCompleted:
			printSuccess("Job %s: %d image(s)", result.JobID, len(result.Images))
			for _, path := range result.Saved {
				fmt.Println("  " + path)
			}
		case result.Status == models.JobError:
			printError("Job %s failed: %s", result.JobID, result.Error)
		default:
			printWarning("Job %s still %s", result.JobID, result.Status)
		}
	}

	return nil
}
