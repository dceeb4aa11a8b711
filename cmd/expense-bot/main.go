package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/logging"
	"github.com/xaenox/expense-bot/pkg/config"
)

var (
	cfgFile string
	version = "dev"

	cfg    *config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "expense-bot",
		Short: "Expense tracking API, analytics worker and Telegram connector",
		Long: `expense-bot records expenses sent as free text or structured JSON,
classifies them with a language model and reports spending analytics.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
		PersistentPostRun: func(*cobra.Command, []string) { syncLogger() },
		Version:           version,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file (optional)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(connectorCmd())
	rootCmd.AddCommand(migrateCmd())
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// A missing .env file is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loaded.Log.Level = level
	}

	l, err := logging.New(loaded.Log)
	if err != nil {
		return err
	}

	cfg, logger = loaded, l
	logger.Debug("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Bool("in_memory_storage", cfg.Database.UseInMemory))
	return nil
}

func syncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		syncLogger()
		os.Exit(1)
	}
}
