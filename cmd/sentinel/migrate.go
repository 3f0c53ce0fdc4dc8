package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonny/sentinel/internal/adapter/outbound/persistence/sqlite"
	"github.com/jonny/sentinel/internal/config"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Database.SQLite, true)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			before, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			applied, err := store.Migrate(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintf(out, "schema is up to date at version %d\n", before)
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "applied migration %03d\n", v)
			}
			fmt.Fprintf(out, "schema version %d -> %d\n", before, applied[len(applied)-1])
			return nil
		},
	}
}

func openStore(cfg config.SQLiteConfig, skipMigrations bool) (*sqlite.Store, error) {
	store, err := sqlite.NewStore(sqlite.Config{
		Path:              cfg.Path,
		MaxOpenConns:      cfg.MaxOpenConns,
		PragmaJournalMode: cfg.PragmaJournalMode,
		PragmaBusyTimeout: cfg.PragmaBusyTimeout,
		SkipMigrations:    skipMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}
