package tasks

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/pkg/config"
)

// newTestAMQPBroker connects to the RabbitMQ named by AMQP_URL using throwaway
// exchange and queue names.
func newTestAMQPBroker(t *testing.T) *AMQPBroker {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("AMQP_URL not set")
	}

	suffix := uuid.NewString()[:8]
	broker, err := NewAMQPBroker(config.QueueConfig{
		Backend:  "amqp",
		URL:      url,
		Exchange: "expense_bot_test_" + suffix,
		Queue:    "analytics_test_" + suffix,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		broker.channel.QueueDelete(broker.retryQueue, false, false, false)
		broker.channel.QueueDelete(broker.queueName, false, false, false)
		broker.channel.ExchangeDelete(broker.exchangeName, false, false)
		broker.Close()
	})
	return broker
}

func consumeInto(t *testing.T, broker *AMQPBroker, handler Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		broker.Consume(ctx, handler)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestAMQPBroker_PublishAndDelayedRetry(t *testing.T) {
	broker := newTestAMQPBroker(t)
	require.NoError(t, broker.Ready())

	received := make(chan *Job, 4)
	consumeInto(t, broker, func(_ context.Context, job *Job) error {
		received <- job
		return nil
	})

	ctx := context.Background()
	first := NewJob("first", models.AnalyticsRequest{UserID: 1})
	require.NoError(t, broker.Publish(ctx, first))

	select {
	case job := <-received:
		assert.Equal(t, "first", job.TaskID)
		assert.Equal(t, int64(1), job.Request.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published job")
	}

	started := time.Now()
	require.NoError(t, broker.PublishDelayed(ctx, first.Next(), 200*time.Millisecond))

	select {
	case job := <-received:
		assert.Equal(t, "first", job.TaskID)
		assert.Equal(t, 2, job.Attempt)
		assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delayed job")
	}
}

func TestAMQPBroker_RequeuesFailedJobOnce(t *testing.T) {
	broker := newTestAMQPBroker(t)

	var mu sync.Mutex
	calls := 0
	handled := make(chan struct{}, 4)
	consumeInto(t, broker, func(_ context.Context, job *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		handled <- struct{}{}
		return errors.New("store unavailable")
	})

	require.NoError(t, broker.Publish(context.Background(), NewJob("flaky", models.AnalyticsRequest{UserID: 1})))

	for i := 0; i < 2; i++ {
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	// The redelivered copy is dropped after its second failure.
	select {
	case <-handled:
		t.Fatal("job delivered a third time")
	case <-time.After(300 * time.Millisecond):
	}
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestAMQPBroker_RejectsUndecodableMessages(t *testing.T) {
	broker := newTestAMQPBroker(t)

	received := make(chan *Job, 2)
	consumeInto(t, broker, func(_ context.Context, job *Job) error {
		received <- job
		return nil
	})

	ctx := context.Background()
	broker.mu.Lock()
	err := broker.channel.PublishWithContext(ctx, broker.exchangeName, broker.queueName, false, false,
		amqp091.Publishing{ContentType: "application/json", Body: []byte("not json")})
	broker.mu.Unlock()
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, NewJob("valid", models.AnalyticsRequest{UserID: 1})))

	select {
	case job := <-received:
		assert.Equal(t, "valid", job.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for valid job")
	}
}
