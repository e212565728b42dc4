package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailtide/mailtide/internal/db"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	fmt.Printf("Migrations applied to %s\n", cfg.Database.Path)
	return nil
}
