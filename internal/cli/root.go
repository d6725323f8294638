// Package cli holds the tquiz commands.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/tquiz/internal/config"
	"github.com/victornm/tquiz/internal/server"
	"github.com/victornm/tquiz/internal/telemetry"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "tquiz",
		Short:        "Timed quiz service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A local .env is a convenience for development; it never overrides the real environment.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"),
		"path to the config file, defaults to $CONFIG_PATH; without one only defaults and environment are used")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newTokenCmd(&configPath),
	)

	return cmd
}

// loadConfig reads the config and installs the process logger it describes.
func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(telemetry.NewLogger(os.Stderr, c.Log.Level, c.Log.Format))
	return c, nil
}
