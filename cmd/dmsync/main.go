// ABOUTME: Entry point for the dmsync command line client
// ABOUTME: Builds the cobra command tree and resolves config and store paths

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/dmsync/internal/config"
	"github.com/2389/dmsync/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dmsync",
		Short:         "dmsync - direct message sync client",
		Long:          "dmsync keeps a conversation list and an open thread in sync with a message store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("dmsync version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default: $DMSYNC_CONFIG or XDG config dir)")
	cmd.PersistentFlags().String("db", "", "database path, overrides the config file")

	cmd.AddCommand(
		newInitDBCmd(),
		newSeedCmd(),
		newUsersCmd(),
		newShellCmd(),
	)
	return cmd
}

// getConfigPath returns the path to the config file.
// Priority: --config flag > DMSYNC_CONFIG env var > XDG_CONFIG_HOME/dmsync/config.yaml > ~/.config/dmsync/config.yaml
func getConfigPath(cmd *cobra.Command) string {
	if flagPath, _ := cmd.Flags().GetString("config"); flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("DMSYNC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "dmsync", "config.yaml")
}

// loadConfig loads the config file, falling back to defaults when it is
// absent, and applies the --db override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(getConfigPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// openStore installs the configured logger as the default, since the store
// logs through slog.Default, and opens the database.
func openStore(cfg *config.Config) (*store.SQLiteStore, *slog.Logger, error) {
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return st, logger, nil
}
