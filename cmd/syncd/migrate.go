package main

import (
	"fmt"

	syncmigrations "github.com/goliatone/go-atlassian-sync/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the sync schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := syncmigrations.Apply(cmd.Context(), client, cfg.Database.Driver); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
