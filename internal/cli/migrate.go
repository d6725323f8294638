package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/tquiz/internal/server"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/store/postgres"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			return runMigrate(cmd.Context(), c.Postgres, seed)
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "also load the sample quiz")
	return cmd
}

func runMigrate(ctx context.Context, c server.PostgresConfig, seed bool) error {
	if c.Addr == "" {
		return fmt.Errorf("postgres address not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	db, err := server.ConnectPostgres(ctx, c)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	slog.InfoContext(ctx, "migrate: schema applied")

	if !seed {
		return nil
	}

	if err := postgres.NewStore(db).PutQuiz(ctx, store.SampleSeed(time.Now().UTC())); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	slog.InfoContext(ctx, "migrate: sample quiz loaded")

	return nil
}
