// Package scheduler implements the durable task scheduler of spec.md
// §4.7: a pgx-backed task/task_arch/task_log store, a crontab-driven
// recurring scheduler (robfig/cron/v3), and a dispatch loop that claims
// due rows under a Postgres advisory lock so peer instances never run the
// same row twice.
package scheduler

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a Task's position in the state machine of spec.md §4.7.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusRetry      Status = "retry"
	StatusSuccessful Status = "successful"
	StatusError      Status = "error"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether s is an archive-partition status.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusError || s == StatusCanceled
}

// Task is one row of spec.md §3's Task entity.
type Task struct {
	ID           uuid.UUID
	Name         string
	Params       map[string]interface{}
	ETA          time.Time
	LastStamp    time.Time
	Status       Status
	Retries      int
	MaxRetries   int
	RetryDelay   time.Duration
	Reference    string
	TraceID      string
	TraceSpanID  string
	CreatedAt    time.Time
}

// TaskLog is one append-only row per dispatch attempt.
type TaskLog struct {
	ID        uuid.UUID
	TaskID    uuid.UUID
	ETA       time.Time
	Started   time.Time
	Finished  time.Time
	Result    interface{}
	Error     string
	Traceback string
}

// RetryRequest is the control-flow signal a task method returns (wrapped
// as an error) to explicitly request the retry path (spec.md §4.7 "A
// Retry(cause) exception raised inside a task explicitly requests the
// retry path").
type RetryRequest struct {
	Cause error
}

func (r *RetryRequest) Error() string {
	if r.Cause == nil {
		return "scheduler: retry requested"
	}
	return "scheduler: retry requested: " + r.Cause.Error()
}

func (r *RetryRequest) Unwrap() error { return r.Cause }

// Retry wraps cause as a RetryRequest.
func Retry(cause error) error { return &RetryRequest{Cause: cause} }

// IsRetry reports whether err requests the retry path.
func IsRetry(err error) bool {
	var r *RetryRequest
	return errors.As(err, &r)
}

// ErrNotFound is returned by store lookups that find no matching row.
var ErrNotFound = errors.New("scheduler: task not found")
