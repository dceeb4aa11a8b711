package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/pkg/config"
)

const publishTimeout = 5 * time.Second

// AMQPBroker delivers jobs through RabbitMQ. Delayed jobs wait in a retry
// queue whose expired messages are dead-lettered back into the main exchange.
type AMQPBroker struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	retryQueue   string
	logger       *zap.Logger

	mu sync.Mutex
}

func NewAMQPBroker(cfg config.QueueConfig, logger *zap.Logger) (*AMQPBroker, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	broker := &AMQPBroker{
		conn:         conn,
		channel:      channel,
		exchangeName: cfg.Exchange,
		queueName:    cfg.Queue,
		retryQueue:   cfg.Queue + ".retry",
		logger:       logger.Named("amqp"),
	}

	if err := broker.setup(); err != nil {
		broker.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return broker, nil
}

func (b *AMQPBroker) setup() error {
	err := b.channel.ExchangeDeclare(
		b.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = b.channel.QueueDeclare(
		b.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = b.channel.QueueBind(
		b.queueName,    // queue name
		b.queueName,    // routing key
		b.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// No consumers: messages sit here until their expiration, then go back to the main queue.
	_, err = b.channel.QueueDeclare(
		b.retryQueue,
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-dead-letter-exchange":    b.exchangeName,
			"x-dead-letter-routing-key": b.queueName,
		},
	)
	if err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}

	// One unacknowledged job per worker at a time.
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	return nil
}

func (b *AMQPBroker) Publish(ctx context.Context, job *Job) error {
	return b.publish(ctx, b.exchangeName, b.queueName, job, "")
}

func (b *AMQPBroker) PublishDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	return b.publish(ctx, "", b.retryQueue, job, expiration)
}

func (b *AMQPBroker) publish(ctx context.Context, exchange, routingKey string, job *Job, expiration string) error {
	body, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.channel.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    job.TaskID,
			Expiration:   expiration,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	b.logger.Debug("Published job",
		zap.String("task_id", job.TaskID),
		zap.Int("attempt", job.Attempt),
		zap.String("routing_key", routingKey),
		zap.String("expiration_ms", expiration))

	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := b.channel.Consume(
		b.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	b.logger.Info("Started consuming jobs", zap.String("queue", b.queueName))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopping job consumption", zap.Error(ctx.Err()))
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			b.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (b *AMQPBroker) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler Handler) {
	job, err := JobFromJSON(delivery.Body)
	if err != nil {
		b.logger.Error("Failed to decode job", zap.Error(err))
		delivery.Nack(false, false) // reject and don't requeue
		return
	}

	if err := handler(ctx, job); err != nil {
		// Requeue once; a second failure drops the job rather than spinning on it.
		requeue := !delivery.Redelivered
		b.logger.Error("Failed to handle job",
			zap.Error(err),
			zap.String("task_id", job.TaskID),
			zap.Bool("requeue", requeue))
		delivery.Nack(false, requeue)
		return
	}

	delivery.Ack(false)
}

func (b *AMQPBroker) Ready() error {
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (b *AMQPBroker) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
