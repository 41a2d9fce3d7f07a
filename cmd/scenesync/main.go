// Command scenesync is the Scenergy workspace client: pull product
// trees, send render prompts, follow generation jobs and download the
// finished images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scenergy/scenesync/internal/client"
	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
)

var rootCmd = &cobra.Command{
	Use:   "scenesync",
	Short: "Scenergy product visualization workspace client",
	Long: `Scenesync keeps a local copy of Scenergy workspaces in sync with the
service: pull client trees, send render prompts to scene sessions,
follow the generation jobs and download the rendered images.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default searches ., ~/.config/scenesync, ~/.scenesync)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// initRuntime loads configuration and wires the client before any
// command runs. The version command works without either.
func initRuntime(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	if jsonOutput && cfg.Log.File == "" {
		// Logs share stdout with the JSON result; keep it parseable.
		cfg.Log.Level = "error"
	}
	if !cfg.Log.Color {
		color.NoColor = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	return nil
}

// signalContext cancels the returned context on the first interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nInterrupted, cancelling...")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	err := rootCmd.Execute()

	if apiClient != nil {
		if closeErr := apiClient.Close(); closeErr != nil && logger != nil {
			logger.WithError(closeErr).Warn("Failed to close client")
		}
	}

	if err != nil {
		printError("Error: %v", err)
		os.Exit(1)
	}
}
