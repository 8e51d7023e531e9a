package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/soven/internal/personality"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the personality schema",
		Long: `Create or upgrade the personality schema in PostgreSQL.

The DSN is taken from --dsn or store.postgres_dsn in the config file. The
database needs the pgvector extension available. Running migrate twice is
safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				cfg, err := root.loadConfig(true)
				if err != nil {
					return err
				}
				dsn = cfg.Store.PostgresDSN
			}
			if dsn == "" {
				return errors.New("no database configured: pass --dsn or set store.postgres_dsn")
			}

			ctx := cmd.Context()
			pool, err := personality.NewPool(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := personality.NewPostgresStore(pool).Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "personality schema is up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (overrides the config file)")
	return cmd
}
