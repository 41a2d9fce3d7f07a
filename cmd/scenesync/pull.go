package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scenergy/scenesync/internal/models"
)

var pullCmd = &cobra.Command{
	Use:   "pull <client-id>",
	Short: "Fetch a client workspace and store a local snapshot",
	Long: `Pull downloads the full workspace tree for a client, with its
products, scene sessions and messages, and saves it to the local
snapshot store so other commands can work from it.`,
	Example: `  scenesync pull client-8f2
  scenesync pull client-8f2 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	clientID := args[0]

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	tree, err := apiClient.Pull(ctx, clientID)
	if err != nil {
		return err
	}

	products, sessions, messages := treeCounts(tree)

	if jsonOutput {
		printJSON(map[string]interface{}{
			"client_id": tree.ID,
			"name":      tree.Name,
			"products":  products,
			"sessions":  sessions,
			"messages":  messages,
		})
		return nil
	}

	printSuccess("Pulled %s: %d products, %d sessions, %d messages",
		tree.Name, products, sessions, messages)
	return nil
}

func treeCounts(tree *models.Client) (products, sessions, messages int) {
	products = len(tree.Products)
	for _, product := range tree.Products {
		sessions += len(product.Sessions)
		for _, session := range product.Sessions {
			messages += len(session.Messages)
		}
	}
	return products, sessions, messages
}
