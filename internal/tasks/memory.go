package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker keeps jobs in process. Delivery is lost on restart.
type MemoryBroker struct {
	jobs    chan *Job
	done    chan struct{}
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

func NewMemoryBroker(buffer, workers int, logger *zap.Logger) *MemoryBroker {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &MemoryBroker{
		jobs:    make(chan *Job, buffer),
		done:    make(chan struct{}),
		workers: workers,
		logger:  logger.Named("memory_broker"),
		timers:  make(map[*time.Timer]struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, job *Job) error {
	copied := *job
	select {
	case b.jobs <- &copied:
		return nil
	case <-b.done:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) PublishDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	copied := *job
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()

		select {
		case b.jobs <- &copied:
		case <-b.done:
			b.logger.Warn("Dropping delayed job, broker closed", zap.String("task_id", copied.TaskID))
		}
	})
	b.timers[timer] = struct{}{}
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-b.done:
					return nil
				case job := <-b.jobs:
					if err := handler(ctx, job); err != nil {
						b.logger.Error("Failed to handle job",
							zap.Error(err),
							zap.String("task_id", job.TaskID))
					}
				}
			}
		})
	}

	return g.Wait()
}

func (b *MemoryBroker) Ready() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for timer := range b.timers {
		timer.Stop()
	}
	close(b.done)
	return nil
}
