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

var sendCmd = &cobra.Command{
	Use:   "send <client-id> <product-id> <session-id>",
	Short: "Send a render prompt to a scene session",
	Long: `Send appends a prompt to a scene session, uploads the session, and
registers the render job the service starts for it. With --watch the
command waits for the job to finish; --save-assets also downloads the
rendered images.`,
	Example: `  scenesync send client-8f2 prod-11 sess-3 -m "Render on oak flooring"
  scenesync send client-8f2 prod-11 sess-3 -m "Closer crop" --watch --save-assets`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

var (
	sendMessage    string
	sendWatch      bool
	sendSaveAssets bool
	sendTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "",
		"Prompt text (required)")
	sendCmd.Flags().BoolVarP(&sendWatch, "watch", "w", false,
		"Wait for the render job to finish")
	sendCmd.Flags().BoolVar(&sendSaveAssets, "save-assets", false,
		"Download rendered images when the job completes (implies --watch)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Minute,
		"How long --watch waits before giving up")

	_ = sendCmd.MarkFlagRequired("message")
}

func runSend(cmd *cobra.Command, args []string) error {
	clientID, productID, sessionID := args[0], args[1], args[2]

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	if _, err := apiClient.Resume(clientID); err != nil {
		if !errors.Is(err, state.ErrSnapshotNotFound) {
			return err
		}
		if _, err := apiClient.Pull(ctx, clientID); err != nil {
			return err
		}
	}

	placeholder, err := apiClient.SendPrompt(ctx, clientID, productID, sessionID, sendMessage)
	if err != nil {
		return err
	}

	if sendSaveAssets {
		sendWatch = true
	}

	if !sendWatch {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"message_id": placeholder.ID,
				"job_id":     placeholder.JobID,
				"status":     placeholder.Status,
			})
		} else {
			printSuccess("Prompt queued, job %s", placeholder.JobID)
			printInfo("Run: scenesync watch %s", clientID)
		}
		return nil
	}

	if !jsonOutput {
		printInfo("Prompt queued, waiting for job %s...", placeholder.JobID)
	}

	waitCtx := ctx
	if sendTimeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, sendTimeout)
		defer cancelWait()
	}

	waitErr := apiClient.WaitForJobs(waitCtx)

	if err := apiClient.SaveSnapshot(clientID); err != nil {
		logger.WithError(err).Warn("Failed to save snapshot")
	}
	if waitErr != nil {
		return fmt.Errorf("wait for render: %w", waitErr)
	}

	final, err := lookupMessage(apiClient.Workspace.Get(), productID, sessionID, placeholder.ID)
	if err != nil {
		return err
	}

	if final.Status == models.JobError {
		return fmt.Errorf("render failed: %s", final.Error)
	}

	var saved []string
	if sendSaveAssets && len(final.ImageIDs) > 0 {
		saved, err = apiClient.DownloadAssets(ctx, clientID, final)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"message_id": final.ID,
			"job_id":     placeholder.JobID,
			"status":     final.Status,
			"images":     final.ImageIDs,
			"saved":      saved,
		})
		return nil
	}

	printSuccess("Render complete: %d image(s)", len(final.ImageIDs))
	for _, path := range saved {
		fmt.Println("  " + path)
	}
	return nil
}

func lookupMessage(tree *models.Client, productID, sessionID, messageID string) (*models.Message, error) {
	if tree == nil {
		return nil, fmt.Errorf("workspace not loaded")
	}
	product, ok := tree.Product(productID)
	if !ok {
		return nil, fmt.Errorf("product %s not found", productID)
	}
	session, ok := product.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	msg, ok := session.Message(messageID)
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	return msg, nil
}
