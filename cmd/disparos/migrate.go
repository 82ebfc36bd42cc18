package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/disparos/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dsn := cfg.Database.Path
	if cfg.Database.Driver == db.DriverPostgres {
		dsn = cfg.Database.DSN
	}

	database, err := db.New(cfg.Database.Driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("Database migrated (%s)\n", cfg.Database.Driver)
	return nil
}
