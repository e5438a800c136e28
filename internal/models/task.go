// Package models defines data structures for the kbflow operator console.
package models

import "time"

// TaskType identifies the kind of pipeline work a task performs.
type TaskType string

const (
	TaskTypeIngestion  TaskType = "ingestion"
	TaskTypeIndexing   TaskType = "indexing"
	TaskTypePublishing TaskType = "publishing"
)

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is one of the known task statuses.
// Backends may introduce new statuses; callers must not treat an
// unknown value as an error (see task.Classify).
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents one unit of asynchronous backend work (ingest, build
// or publish). Status is owned by the backend; the console only requests
// cancel or retry.
type Task struct {
	ID                     string         `json:"id"`
	TaskType               TaskType       `json:"task_type"`
	Status                 TaskStatus     `json:"status"`
	Priority               int            `json:"priority"`
	RetryCount             int            `json:"retry_count"`
	MaxRetries             int            `json:"max_retries"`
	CreatedAt              time.Time      `json:"created_at"`
	StartedAt              *time.Time     `json:"started_at,omitempty"`
	CompletedAt            *time.Time     `json:"completed_at,omitempty"`
	KnowledgeBaseID        string         `json:"knowledge_base_id"`
	KnowledgeBaseVersionID string         `json:"knowledge_base_version_id"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}

// StepStats aggregates per-step counters within a task result.
type StepStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProcessingError is one structured failure recorded while processing
// a single item. Recoverable marks errors a user-triggered retry may fix.
type ProcessingError struct {
	ItemID      string `json:"item_id"`
	Step        string `json:"step"`
	ErrorType   string `json:"error_type"`
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// TaskResult summarizes a task once it reached a terminal state.
type TaskResult struct {
	TaskID         string               `json:"task_id"`
	TotalItems     int                  `json:"total_items"`
	SucceededCount int                  `json:"succeeded_count"`
	FailedCount    int                  `json:"failed_count"`
	SkippedCount   int                  `json:"skipped_count"`
	StepStats      map[string]StepStats `json:"step_stats,omitempty"`
	Errors         []ProcessingError    `json:"errors,omitempty"`
}

// SuccessRate returns succeeded/total in [0,1], 0 when no items exist.
func (r TaskResult) SuccessRate() float64 {
	if r.TotalItems == 0 {
		return 0
	}
	return float64(r.SucceededCount) / float64(r.TotalItems)
}

// ProgressUpdate is one ephemeral frame pushed over the task progress
// socket. It is superseded by the next frame or, once the task is
// terminal, by the fetched TaskResult.
type ProgressUpdate struct {
	TaskID         string     `json:"task_id"`
	EventType      string     `json:"event_type"`
	Status         TaskStatus `json:"status"`
	Progress       *float64   `json:"progress,omitempty"` // 0-100
	Message        *string    `json:"message,omitempty"`
	CurrentStep    *string    `json:"current_step,omitempty"`
	ItemsProcessed *int       `json:"items_processed,omitempty"`
	TotalItems     *int       `json:"total_items,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}
