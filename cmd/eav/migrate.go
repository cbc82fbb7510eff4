package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations and exit",
	Long:  "Apply the migrations in DB_MIGRATION_FOLDER_PATH up to DB_MIGRATION_VERSION (latest when 0).",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, shutdown, err := boot(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer shutdown()

		app.logger.WithField("folder", app.cfg.DatabaseMigrationFolderPath).Info("migrations applied")
		return nil
	},
}
