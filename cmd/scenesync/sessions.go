package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scenergy/scenesync/internal/state"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <client-id>",
	Short: "List products and scene sessions from the local snapshot",
	Long: `Sessions reads the stored snapshot and lists every product with its
scene sessions. It never touches the network; run pull first to
refresh the snapshot.`,
	Example: `  scenesync sessions client-8f2`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	clientID := args[0]

	snap, err := apiClient.Snapshots.Load(clientID)
	if err != nil {
		if errors.Is(err, state.ErrSnapshotNotFound) {
			return fmt.Errorf("no snapshot for %s: run pull first", clientID)
		}
		return err
	}

	if jsonOutput {
		printJSON(snap.Client)
		return nil
	}

	printInfo("%s (fetched %s)", snap.Client.Name,
		snap.FetchedAt.Local().Format(time.RFC822))

	for _, product := range snap.Client.Products {
		fmt.Printf("%s  %s (%s)\n", product.ID, product.Name, product.SKU)
		for _, session := range product.Sessions {
			detail := "empty"
			if n := len(session.Messages); n > 0 {
				detail = fmt.Sprintf("%d messages, last %s", n,
					session.Messages[n-1].UpdatedAt.Local().Format(time.RFC822))
			}
			fmt.Printf("  %s  %-28s %s [%s]\n",
				session.ID, session.Title, detail, session.ScenePreset)
		}
	}

	if n := len(snap.PendingJobs); n > 0 {
		printWarning("%d render job(s) still pending; run: scenesync watch %s", n, clientID)
	}

	return nil
}
