package task

import (
	"errors"
	"testing"

	"github.com/kbflow/kbflow/internal/models"
)

var allStatuses = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusRunning,
	models.TaskStatusCompleted,
	models.TaskStatusFailed,
	models.TaskStatusCancelled,
}

func TestClassify_ExhaustiveAndExclusive(t *testing.T) {
	for _, s := range allStatuses {
		c, err := Classify(s)
		if err != nil {
			t.Fatalf("Classify(%q) unexpected error: %v", s, err)
		}
		if c.Terminal == c.Active {
			t.Errorf("Classify(%q) = %+v, want exactly one of Terminal/Active", s, c)
		}
		if IsTerminal(s) == IsActive(s) {
			t.Errorf("IsTerminal(%q) == IsActive(%q), want mutually exclusive", s, s)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status   models.TaskStatus
		terminal bool
	}{
		{models.TaskStatusPending, false},
		{models.TaskStatusRunning, false},
		{models.TaskStatusCompleted, true},
		{models.TaskStatusFailed, true},
		{models.TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestClassify_UnknownStatus(t *testing.T) {
	c, err := Classify("paused")
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("Classify(paused) error = %v, want ErrUnknownStatus", err)
	}
	// Unknown statuses classify as active so tracking keeps polling.
	if !c.Active || c.Terminal {
		t.Errorf("Classify(paused) = %+v, want pending-equivalent", c)
	}
	if got := DisplayStatus("paused"); got != models.TaskStatusPending {
		t.Errorf("DisplayStatus(paused) = %q, want pending", got)
	}
}

func TestCanCancel(t *testing.T) {
	tests := []struct {
		status models.TaskStatus
		want   bool
	}{
		{models.TaskStatusPending, true},
		{models.TaskStatusRunning, true},
		{models.TaskStatusCompleted, false},
		{models.TaskStatusFailed, false},
		{models.TaskStatusCancelled, false},
	}
	for _, tt := range tests {
		if got := CanCancel(tt.status); got != tt.want {
			t.Errorf("CanCancel(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCanRetry(t *testing.T) {
	tests := []struct {
		status models.TaskStatus
		want   bool
	}{
		{models.TaskStatusPending, false},
		{models.TaskStatusRunning, false},
		{models.TaskStatusCompleted, false},
		{models.TaskStatusFailed, true},
		{models.TaskStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := CanRetry(tt.status); got != tt.want {
			t.Errorf("CanRetry(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
