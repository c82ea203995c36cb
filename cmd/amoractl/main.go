// amoractl is the operator and client tool for the amora chat server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/amora/internal/config"
	"github.com/ashureev/amora/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "amoractl",
		Short:         "Manage profiles, keys and access, or chat from the terminal",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newProfileCmd(),
		newAPIKeyCmd(),
		newGrantCmd(),
		newSubscriptionCmd(),
		newTokenCmd(),
		newChatCmd(),
	)
	return root
}

// withRepo opens the configured database for the duration of fn.
func withRepo(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	db, err := config.LoadDB()
	if err != nil {
		return err
	}
	repo, err := store.Open(db.Driver, db.Source())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	return fn(ctx, repo)
}
