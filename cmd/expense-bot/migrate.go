package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(*cobra.Command, []string) error {
			if cfg.Database.UseInMemory {
				return errInMemoryStorage
			}
			if err := storage.RunMigrations(cfg.Database.DSN()); err != nil {
				return err
			}
			return printVersion()
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(*cobra.Command, []string) error {
			if cfg.Database.UseInMemory {
				return errInMemoryStorage
			}
			if err := storage.RollbackMigrations(cfg.Database.DSN(), steps); err != nil {
				return err
			}
			return printVersion()
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 for all)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(*cobra.Command, []string) error {
			if cfg.Database.UseInMemory {
				return errInMemoryStorage
			}
			return printVersion()
		},
	}

	cmd.AddCommand(down, versionCmd)
	return cmd
}

func printVersion() error {
	version, dirty, err := storage.MigrationVersion(cfg.Database.DSN())
	if err != nil {
		return err
	}
	logger.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
