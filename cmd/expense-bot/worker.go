package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/expense-bot/internal/service"
	"github.com/xaenox/expense-bot/internal/tasks"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume analytics jobs from the AMQP queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Queue.Backend != "amqp" {
				return fmt.Errorf("worker needs queue.backend=amqp, got %q; the memory queue runs inside serve", cfg.Queue.Backend)
			}
			if cfg.Database.UseInMemory {
				return errInMemoryStorage
			}

			ctx := cmd.Context()

			store, err := openStorage(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			broker, err := openBroker(cfg.Queue, logger)
			if err != nil {
				return err
			}
			defer broker.Close()

			analytics := service.NewAnalyticsService(store, logger)
			return tasks.NewRunner(store, broker, analytics, cfg.Queue, logger).Run(ctx)
		},
	}
}
