package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xaenox/expense-bot/internal/bot"
)

func connectorCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Forward Telegram messages to the expense API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ValidateConnector(); err != nil {
				return err
			}

			client := bot.NewAPIClient(cfg.Telegram.ServiceURL, timeout)
			b, err := bot.New(cfg.Telegram.Token, client, logger)
			if err != nil {
				return err
			}
			return b.Start(cmd.Context())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for calls to the expense API")
	return cmd
}
