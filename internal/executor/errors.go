package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/harbor/internal/models"
)

// TaskError represents an error that occurred during task execution.
// It includes context about which task and step failed and when.
type TaskError struct {
	Task      models.TaskID // Task that failed
	Step      string        // Step that was being attempted
	Index     int           // Step index
	Err       error         // Underlying error
	Timestamp time.Time     // When the error occurred
}

// NewTaskError creates a new TaskError with the current timestamp.
func NewTaskError(task models.TaskID, step string, index int, err error) *TaskError {
	return &TaskError{
		Task:      task,
		Step:      step,
		Index:     index,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for TaskError.
func (e *TaskError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("task %s: step %d (%s)", e.Task, e.Index, e.Step))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a wait abandoned at its bound.
type TimeoutError struct {
	Task         models.TaskID // Task that timed out
	Step         string        // Step whose wait was abandoned
	Timeout      time.Duration // Bound that was reached
	LastObserved models.State  // Last state seen before giving up
	Expected     models.State  // State the step was waiting for
	Timestamp    time.Time     // When the timeout occurred
}

// NewTimeoutError creates a new TimeoutError with the current timestamp.
func NewTimeoutError(task models.TaskID, step string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		Task:      task,
		Step:      step,
		Timeout:   timeout,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("task %s: %s timed out after %v", e.Task, e.Step, e.Timeout))
	if e.Expected.IsKnown() || e.LastObserved.IsKnown() {
		last := string(e.LastObserved)
		if last == "" {
			last = "unknown"
		}
		sb.WriteString(fmt.Sprintf(" (waiting for %s, last observed %s)", e.Expected, last))
	}
	return sb.String()
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsTaskError checks if the error is or wraps a TaskError.
func IsTaskError(err error) bool {
	if err == nil {
		return false
	}
	var te *TaskError
	return errors.As(err, &te)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
