package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gtasksync/internal/token"
)

// newAuthCmd bootstraps the one piece of OAuth state this core cannot
// obtain on its own: a refresh token from the consent flow a companion
// UI shell (or `gcloud`/an OAuth playground) already ran. Everything
// past this point — refreshing, expiry, ensure_access_token — is C4's
// job.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored Google OAuth2 refresh token",
	}
	cmd.AddCommand(newAuthSetRefreshTokenCmd())
	cmd.AddCommand(newAuthClearCmd())
	return cmd
}

func newAuthSetRefreshTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-refresh-token",
		Short: "Store a refresh token obtained from the Google OAuth2 consent flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("Refresh token: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read refresh token: %w", err)
			}

			store := token.NewStore()
			if err := store.Connect(string(raw)); err != nil {
				return err
			}
			fmt.Println("Refresh token stored.")
			return nil
		},
	}
	return cmd
}

func newAuthClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored refresh token, disconnecting the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := token.NewStore()
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Println("Account disconnected.")
			return nil
		},
	}
	return cmd
}
