package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/expense-bot/internal/storage"
	"github.com/xaenox/expense-bot/internal/tasks"
	"github.com/xaenox/expense-bot/pkg/config"
)

func TestOpenStorage_InMemory(t *testing.T) {
	store, err := openStorage(context.Background(), config.DatabaseConfig{UseInMemory: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &storage.MemoryStorage{}, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpenBroker(t *testing.T) {
	broker, err := openBroker(config.QueueConfig{Backend: "memory", Workers: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer broker.Close()
	assert.IsType(t, &tasks.MemoryBroker{}, broker)

	_, err = openBroker(config.QueueConfig{Backend: "redis"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "connector", "migrate"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}
