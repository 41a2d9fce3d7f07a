package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the Scenergy service",
	Long:  `Login requests a session token and stores it for later commands.`,
	Example: `  scenesync login --email designer@atelier.no
  scenesync login -e designer@atelier.no -p secret --json`,
	RunE: runLogin,
}

var (
	loginEmail    string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address (defaults to auth.email from config)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if loginEmail == "" {
		loginEmail = cfg.Auth.Email
	}
	if loginEmail == "" {
		return fmt.Errorf("email is required: pass --email or set auth.email")
	}

	if loginPassword == "" {
		var err error
		loginPassword, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	if err := apiClient.Auth.Login(ctx, loginEmail, loginPassword); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		}
		return fmt.Errorf("login failed: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"email":   loginEmail,
		})
	} else {
		printSuccess("Logged in as %s", loginEmail)
	}

	return nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session token",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := apiClient.Auth.Logout(); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Logged out")
	}

	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo.
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}
