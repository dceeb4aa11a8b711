package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/storage"
	"github.com/xaenox/expense-bot/internal/tasks"
	"github.com/xaenox/expense-bot/pkg/config"
)

func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (storage.Storage, error) {
	if cfg.UseInMemory {
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}

	logger.Info("Using PostgreSQL storage")
	store, err := storage.NewPostgresStorage(ctx, cfg.DSN(), cfg.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func openBroker(cfg config.QueueConfig, logger *zap.Logger) (tasks.Broker, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("Using in-process task queue")
		return tasks.NewMemoryBroker(256, cfg.Workers, logger), nil
	case "amqp":
		logger.Info("Using AMQP task queue",
			zap.String("exchange", cfg.Exchange),
			zap.String("queue", cfg.Queue))
		broker, err := tasks.NewAMQPBroker(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to broker: %w", err)
		}
		return broker, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

var errInMemoryStorage = errors.New("database.use_in_memory is set: nothing to migrate and no shared state for a separate worker")
