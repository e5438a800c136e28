package models

import "time"

// KnowledgeBase is a named collection of source content that is built
// into indexed, publishable versions.
type KnowledgeBase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VersionStatus is the lifecycle state of a knowledge base version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"
	VersionStatusBuilding  VersionStatus = "building"
	VersionStatusReady     VersionStatus = "ready"
	VersionStatusPublished VersionStatus = "published"
	VersionStatusArchived  VersionStatus = "archived"
)

// Version is a snapshot of a knowledge base's content, immutable once
// published. ParentVersionID links incremental builds to their base.
type Version struct {
	ID              string        `json:"id"`
	KnowledgeBaseID string        `json:"knowledge_base_id"`
	Status          VersionStatus `json:"status"`
	FileCount       int           `json:"file_count"`
	IndexedCount    int           `json:"indexed_count"`
	PendingCount    int           `json:"pending_count"`
	FailedCount     int           `json:"failed_count"`
	ParentVersionID *string       `json:"parent_version_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// StageKind names one per-file processing stage. The extraction stage
// keeps its backend wire name "das".
type StageKind string

const (
	StageExtraction StageKind = "das"
	StageQA         StageKind = "qa"
	StageEmbedding  StageKind = "embedding"
	StageFull       StageKind = "full"
)

// StageKinds lists all stages in dependency order.
var StageKinds = []StageKind{StageExtraction, StageQA, StageEmbedding, StageFull}

// StageStatus is the state of one stage for one file.
type StageStatus string

const (
	StageNotStarted StageStatus = "not_started"
	StageRunning    StageStatus = "running"
	StageDone       StageStatus = "done"
	StageFailed     StageStatus = "failed"
)

// StageState holds status plus optional progress/message for one stage.
type StageState struct {
	Status   StageStatus `json:"status"`
	Progress *float64    `json:"progress,omitempty"` // 0-100
	Message  string      `json:"message,omitempty"`
}

// FileVersion is one ingested file within a version, carrying the state
// of each processing stage.
type FileVersion struct {
	ID        string                   `json:"id"`
	VersionID string                   `json:"version_id"`
	Name      string                   `json:"name"`
	Size      int64                    `json:"size,omitempty"`
	Stages    map[StageKind]StageState `json:"stages,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}
