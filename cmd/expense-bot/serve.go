package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/expense-bot/internal/api"
	"github.com/xaenox/expense-bot/internal/bot"
	"github.com/xaenox/expense-bot/internal/classifier"
	"github.com/xaenox/expense-bot/internal/service"
	"github.com/xaenox/expense-bot/internal/tasks"
)

func serveCmd() *cobra.Command {
	var withBot bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. With the memory queue backend the analytics worker runs
in the same process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if withBot {
				if err := cfg.ValidateConnector(); err != nil {
					return err
				}
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

			expenses := service.NewExpenseService(store, classifier.New(cfg.OpenAI, logger), logger)
			analytics := service.NewAnalyticsService(store, logger)
			submitter := tasks.NewSubmitter(store, broker, analytics, logger)

			srv := api.NewServer(cfg.Server, api.Dependencies{
				Expenses:  expenses,
				Analytics: analytics,
				Tasks:     submitter,
				Checks: []api.ReadinessCheck{
					{Name: "storage", Check: store.Ping},
					{Name: "broker", Check: func(context.Context) error { return broker.Ready() }},
				},
			}, logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(ctx) })

			// A separate worker cannot see in-memory state, so run it here.
			if cfg.Queue.Backend == "memory" || cfg.Database.UseInMemory {
				runner := tasks.NewRunner(store, broker, analytics, cfg.Queue, logger)
				g.Go(func() error { return runner.Run(ctx) })
			}

			if withBot {
				client := bot.NewAPIClient(fmt.Sprintf("http://localhost:%d", cfg.Server.Port), 30*time.Second)
				b, err := bot.New(cfg.Telegram.Token, client, logger)
				if err != nil {
					return err
				}
				g.Go(func() error {
					if err := waitForAPI(ctx, client); err != nil {
						return err
					}
					return b.Start(ctx)
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&withBot, "with-bot", false, "also run the Telegram connector in this process")
	return cmd
}

// waitForAPI polls the local health endpoint while the listener comes up.
func waitForAPI(ctx context.Context, client *bot.APIClient) error {
	var err error
	for i := 0; i < 20; i++ {
		if err = client.Health(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	logger.Error("API did not become healthy", zap.Error(err))
	return err
}
