package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/service"
	"github.com/xaenox/expense-bot/internal/storage"
	"github.com/xaenox/expense-bot/pkg/config"
)

type Computer interface {
	Compute(ctx context.Context, req models.AnalyticsRequest) (*models.AnalyticsResult, error)
}

// Runner executes analytics jobs and records every state change of their task.
type Runner struct {
	store      storage.TaskStorage
	broker     Broker
	analytics  Computer
	maxRetries int
	retryDelay time.Duration
	timeLimit  time.Duration
	logger     *zap.Logger
}

func NewRunner(store storage.TaskStorage, broker Broker, analytics Computer, cfg config.QueueConfig, logger *zap.Logger) *Runner {
	return &Runner{
		store:      store,
		broker:     broker,
		analytics:  analytics,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeLimit:  cfg.TaskTimeLimit,
		logger:     logger.Named("runner"),
	}
}

// Run consumes jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Worker started",
		zap.Int("max_retries", r.maxRetries),
		zap.Duration("retry_delay", r.retryDelay),
		zap.Duration("time_limit", r.timeLimit))

	err := r.broker.Consume(ctx, r.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) Handle(ctx context.Context, job *Job) error {
	logger := r.logger.With(zap.String("task_id", job.TaskID), zap.Int("attempt", job.Attempt))

	task, err := r.store.GetTask(ctx, job.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("Dropping job for unknown task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.State == models.TaskSuccess || task.State == models.TaskFailure {
		logger.Info("Dropping job for finished task", zap.String("state", string(task.State)))
		return nil
	}

	task.State = models.TaskStarted
	task.Attempts = job.Attempt
	if err := r.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("mark task started: %w", err)
	}

	result, computeErr := r.compute(ctx, job.Request)

	switch {
	case computeErr == nil:
		task.State = models.TaskSuccess
		task.Result = result
		task.Error = ""
		logger.Info("Analytics task succeeded")

	case isPermanent(computeErr):
		task.State = models.TaskFailure
		task.Error = computeErr.Error()
		logger.Warn("Analytics task failed permanently", zap.Error(computeErr))

	case job.Attempt-1 < r.maxRetries:
		return r.retry(ctx, logger, task, job, computeErr)

	default:
		task.State = models.TaskFailure
		task.Error = computeErr.Error()
		logger.Error("Analytics task failed, retries exhausted", zap.Error(computeErr))
	}

	if err := r.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("record task %s: %w", task.State, err)
	}
	return nil
}

// retry records the RETRY state before the next attempt is published, so the next
// attempt is the only one that can write after it.
func (r *Runner) retry(ctx context.Context, logger *zap.Logger, task *models.Task, job *Job, computeErr error) error {
	task.State = models.TaskRetry
	task.Error = computeErr.Error()
	if err := r.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("record task %s: %w", task.State, err)
	}

	if err := r.broker.PublishDelayed(ctx, job.Next(), r.retryDelay); err != nil {
		logger.Error("Failed to schedule retry", zap.Error(err))
		task.State = models.TaskFailure
		task.Error = fmt.Sprintf("%v (retry not scheduled: %v)", computeErr, err)
		if err := r.store.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("record task %s: %w", task.State, err)
		}
		return nil
	}

	logger.Warn("Analytics task failed, retrying",
		zap.Error(computeErr),
		zap.Duration("retry_in", r.retryDelay))
	return nil
}

func (r *Runner) compute(ctx context.Context, req models.AnalyticsRequest) (*models.AnalyticsResult, error) {
	if r.timeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeLimit)
		defer cancel()
	}
	return r.analytics.Compute(ctx, req)
}

// isPermanent reports errors that would fail the same way on every attempt.
func isPermanent(err error) bool {
	return errors.Is(err, service.ErrValidation) || errors.Is(err, service.ErrUserNotFound)
}
