// Package tasks runs analytics requests in the background: jobs are published to a
// broker, consumed by a worker and their progress is tracked in storage.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/expense-bot/internal/models"
)

// Job is the message carried by the broker.
type Job struct {
	TaskID     string                  `json:"task_id"`
	Request    models.AnalyticsRequest `json:"request"`
	Attempt    int                     `json:"attempt"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
}

func NewJob(taskID string, req models.AnalyticsRequest) *Job {
	return &Job{
		TaskID:     taskID,
		Request:    req,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Next returns the job for the following attempt.
func (j *Job) Next() *Job {
	return &Job{
		TaskID:     j.TaskID,
		Request:    j.Request,
		Attempt:    j.Attempt + 1,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.TaskID == "" {
		return nil, errors.New("job has no task_id")
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	return &job, nil
}

// Handler processes one job. A returned error means the job could not be
// recorded and should be delivered again.
type Handler func(ctx context.Context, job *Job) error

type Broker interface {
	Publish(ctx context.Context, job *Job) error
	// PublishDelayed makes the job visible to consumers once delay has passed.
	PublishDelayed(ctx context.Context, job *Job, delay time.Duration) error
	// Consume blocks, feeding jobs to handler until ctx is done or the broker fails.
	Consume(ctx context.Context, handler Handler) error
	Ready() error
	Close() error
}
