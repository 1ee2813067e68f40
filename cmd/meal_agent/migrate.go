package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if a.db == nil {
			return fmt.Errorf("migrate needs database.driver=postgres")
		}
		if err := a.migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date") //nolint:errcheck
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
