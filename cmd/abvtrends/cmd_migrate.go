package main

import (
	"github.com/spf13/cobra"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	db, err := database.Connect(cmd.Context(), cfg.Database(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.NewMigrationService(logger, cfg.Migration()).Migrate(db, cfg.DatabaseName)
}
