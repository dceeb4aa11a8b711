package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/storage"
)

var ErrTaskNotFound = errors.New("task not found")

// Validator rejects requests that would never succeed, before they are queued.
type Validator interface {
	Validate(req models.AnalyticsRequest) error
}

type Submitter struct {
	store     storage.TaskStorage
	broker    Broker
	validator Validator
	logger    *zap.Logger
}

func NewSubmitter(store storage.TaskStorage, broker Broker, validator Validator, logger *zap.Logger) *Submitter {
	return &Submitter{
		store:     store,
		broker:    broker,
		validator: validator,
		logger:    logger.Named("submitter"),
	}
}

// Submit records a pending task and queues its first attempt.
func (s *Submitter) Submit(ctx context.Context, req models.AnalyticsRequest) (*models.Task, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:      uuid.NewString(),
		State:   models.TaskPending,
		Request: req,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := s.broker.Publish(ctx, NewJob(task.ID, req)); err != nil {
		task.State = models.TaskFailure
		task.Error = err.Error()
		if updateErr := s.store.UpdateTask(ctx, task); updateErr != nil {
			s.logger.Error("Failed to mark unpublished task as failed",
				zap.Error(updateErr),
				zap.String("task_id", task.ID))
		}
		return nil, fmt.Errorf("publish task %s: %w", task.ID, err)
	}

	s.logger.Info("Analytics task submitted",
		zap.String("task_id", task.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("telegram_id", req.TelegramID))

	return task, nil
}

func (s *Submitter) Status(ctx context.Context, id string) (*models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTaskNotFound
	}

	task, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}
