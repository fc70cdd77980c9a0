// ABOUTME: Store administration commands: init-db, seed and users
// ABOUTME: Thin wrappers over SQLiteStore for preparing a database to sync against

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/dmsync/internal/store"
)

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			green := color.New(color.FgGreen)
			green.Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "Database ready: %s\n", cfg.Database.Path)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var userID, name, status string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if len(name) > 100 {
				return fmt.Errorf("display name exceeds maximum length of 100 characters")
			}
			if userID == "" {
				userID = uuid.New().String()
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			user := &store.User{
				ID:          userID,
				DisplayName: name,
				CreatedAt:   time.Now(),
			}
			if status != "" {
				user.StatusText = &status
			}
			if err := st.SaveUser(cmd.Context(), user); err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			green.Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", name, userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (default: random uuid)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVar(&status, "status", "", "status text")
	return cmd
}

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users. Add one with: dmsync seed --name NAME")
				return nil
			}

			gray := color.New(color.FgHiBlack)
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-20s ", u.ID, u.DisplayName)
				gray.Fprintf(cmd.OutOrStdout(), "joined %s", humanize.Time(u.CreatedAt))
				if u.StatusText != nil {
					gray.Fprintf(cmd.OutOrStdout(), "  %q", *u.StatusText)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}
