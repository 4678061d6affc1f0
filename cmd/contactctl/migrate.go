package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				migrations, err := database.Migrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					fmt.Fprintln(cmd.OutOrStdout(), m.Version)
				}
				return nil
			}

			var dbCfg config.DatabaseConfig
			if err := config.LoadInto(&dbCfg); err != nil {
				return withCode(exitUsage, err)
			}
			pool, err := database.Open(cmd.Context(), dbCfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := database.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List embedded migrations without connecting")
	return cmd
}
