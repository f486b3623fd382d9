package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookdesk/internal/app"
	"github.com/foxzi/hookdesk/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == app.DriverMemory {
		fmt.Println("In-memory database, nothing to migrate")
		return nil
	}

	_, closeStore, err := app.OpenStore(&cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	fmt.Println("Migrations completed successfully")
	return nil
}
