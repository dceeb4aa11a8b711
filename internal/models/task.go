package models

import "time"

type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskRetry   TaskState = "RETRY"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// Label is the human readable status reported by the API.
func (s TaskState) Label() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskStarted:
		return "Started"
	case TaskRetry:
		return "Retry"
	case TaskSuccess:
		return "Success"
	case TaskFailure:
		return "Failed"
	default:
		return string(s)
	}
}

// Task tracks one analytics job from submission to its result.
type Task struct {
	ID        string           `json:"task_id"`
	State     TaskState        `json:"state"`
	Request   AnalyticsRequest `json:"request"`
	Result    *AnalyticsResult `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Attempts  int              `json:"attempts"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
