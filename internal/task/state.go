// Package task classifies background task statuses and decides which
// lifecycle requests (cancel, retry) are valid for a given status.
package task

import (
	"errors"
	"fmt"

	"github.com/kbflow/kbflow/internal/models"
)

// ErrUnknownStatus marks a status string the console does not recognize.
// It is a warning condition: callers should log it and fall back to the
// pending-equivalent classification, never fail hard on it.
var ErrUnknownStatus = errors.New("unknown task status")

// Classification splits a status into its two lifecycle halves.
// Exactly one of Terminal and Active is true.
type Classification struct {
	Terminal bool
	Active   bool
}

// Classify maps a task status to its classification. Unknown statuses
// classify as active (pending-equivalent) and return ErrUnknownStatus
// so the caller can surface a warning.
func Classify(s models.TaskStatus) (Classification, error) {
	switch s {
	case models.TaskStatusPending, models.TaskStatusRunning:
		return Classification{Active: true}, nil
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		return Classification{Terminal: true}, nil
	default:
		return Classification{Active: true}, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// IsTerminal reports whether s is a final status (completed, failed,
// cancelled). Unknown statuses are not terminal.
func IsTerminal(s models.TaskStatus) bool {
	c, _ := Classify(s)
	return c.Terminal
}

// IsActive reports whether s is still in flight (pending, running).
func IsActive(s models.TaskStatus) bool {
	c, _ := Classify(s)
	return c.Active
}

// CanCancel reports whether a cancel request is valid for s.
func CanCancel(s models.TaskStatus) bool {
	return IsActive(s)
}

// CanRetry reports whether a retry request is valid for s.
func CanRetry(s models.TaskStatus) bool {
	return s == models.TaskStatusFailed || s == models.TaskStatusCancelled
}

// DisplayStatus returns the status to render for s. Unknown backend
// statuses display as pending.
func DisplayStatus(s models.TaskStatus) models.TaskStatus {
	if s.Valid() {
		return s
	}
	return models.TaskStatusPending
}
