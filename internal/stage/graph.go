// Package stage tracks the per-file processing stage dependency graph:
// extraction unlocks qa and embedding, extraction plus qa unlock full.
// Unlock state is recomputed from current stage statuses on every query,
// never cached across completion events.
package stage

import (
	"fmt"
	"sync"

	"github.com/kbflow/kbflow/internal/models"
)

// PreconditionError rejects a stage operation before any backend call:
// the stage is still locked, already running, or already done.
type PreconditionError struct {
	FileID string
	Stage  models.StageKind
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("stage %s for file %s: %s", e.Stage, e.FileID, e.Reason)
}

// Graph holds the stage state for every file of a version. Rows are
// created when a file is first registered and never deleted.
type Graph struct {
	mu    sync.RWMutex
	files map[string]map[models.StageKind]models.StageState
}

// NewGraph creates an empty stage graph.
func NewGraph() *Graph {
	return &Graph{files: make(map[string]map[models.StageKind]models.StageState)}
}

// Register creates the stage row for a file with all stages not started.
// Registering an already-known file is a no-op.
func (g *Graph) Register(fileID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(fileID)
}

// RegisterFile seeds a file's stage row from a backend listing,
// preserving statuses the backend already reports.
func (g *Graph) RegisterFile(fv models.FileVersion) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row := g.ensureLocked(fv.ID)
	for kind, st := range fv.Stages {
		row[kind] = st
	}
}

// ensureLocked returns the stage row for fileID, creating it if needed.
// Caller must hold the write lock.
func (g *Graph) ensureLocked(fileID string) map[models.StageKind]models.StageState {
	row, ok := g.files[fileID]
	if !ok {
		row = make(map[models.StageKind]models.StageState, len(models.StageKinds))
		for _, kind := range models.StageKinds {
			row[kind] = models.StageState{Status: models.StageNotStarted}
		}
		g.files[fileID] = row
	}
	return row
}

// unlocked recomputes the unlock predicate from current statuses.
func unlocked(row map[models.StageKind]models.StageState, kind models.StageKind) bool {
	switch kind {
	case models.StageExtraction:
		return true
	case models.StageQA, models.StageEmbedding:
		return row[models.StageExtraction].Status == models.StageDone
	case models.StageFull:
		return row[models.StageExtraction].Status == models.StageDone &&
			row[models.StageQA].Status == models.StageDone
	default:
		return false
	}
}

// IsUnlocked reports whether kind may be started for the file given the
// current state of its prerequisite stages. Unknown files report only
// extraction as unlocked.
func (g *Graph) IsUnlocked(fileID string, kind models.StageKind) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.files[fileID]
	if !ok {
		return kind == models.StageExtraction
	}
	return unlocked(row, kind)
}

// Start transitions a stage to running. It fails with a
// *PreconditionError when the stage is locked or not restartable.
func (g *Graph) Start(fileID string, kind models.StageKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	row := g.ensureLocked(fileID)
	if !unlocked(row, kind) {
		return &PreconditionError{FileID: fileID, Stage: kind, Reason: "prerequisite stages not done"}
	}
	switch row[kind].Status {
	case models.StageRunning:
		return &PreconditionError{FileID: fileID, Stage: kind, Reason: "already running"}
	case models.StageDone:
		return &PreconditionError{FileID: fileID, Stage: kind, Reason: "already done"}
	}

	row[kind] = models.StageState{Status: models.StageRunning}
	return nil
}

// Complete marks a stage done. Completion of extraction re-opens the
// unlock predicate for qa/embedding, completion of qa for full; both
// take effect because IsUnlocked recomputes from statuses.
func (g *Graph) Complete(fileID string, kind models.StageKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row := g.ensureLocked(fileID)
	row[kind] = models.StageState{Status: models.StageDone}
}

// Fail marks a stage failed with an optional message.
func (g *Graph) Fail(fileID string, kind models.StageKind, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row := g.ensureLocked(fileID)
	row[kind] = models.StageState{Status: models.StageFailed, Message: message}
}

// SetProgress records progress for a running stage without changing status.
func (g *Graph) SetProgress(fileID string, kind models.StageKind, pct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row := g.ensureLocked(fileID)
	st := row[kind]
	st.Progress = &pct
	row[kind] = st
}

// ApplyTaskStatus maps a terminal or running task status for a
// file-scoped stage task onto the stage state.
func (g *Graph) ApplyTaskStatus(fileID string, kind models.StageKind, status models.TaskStatus) {
	switch status {
	case models.TaskStatusRunning:
		// Task startup observed out of band (not via Start): record it,
		// but only if the stage is genuinely startable.
		g.mu.Lock()
		row := g.ensureLocked(fileID)
		if unlocked(row, kind) && row[kind].Status == models.StageNotStarted {
			row[kind] = models.StageState{Status: models.StageRunning}
		}
		g.mu.Unlock()
	case models.TaskStatusCompleted:
		g.Complete(fileID, kind)
	case models.TaskStatusFailed:
		g.Fail(fileID, kind, "task failed")
	case models.TaskStatusCancelled:
		g.Fail(fileID, kind, "task cancelled")
	}
}

// CanPreview reports whether the stage's output may be previewed: only
// once the stage is done.
func (g *Graph) CanPreview(fileID string, kind models.StageKind) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.files[fileID]
	return ok && row[kind].Status == models.StageDone
}

// Stages returns a copy of the stage row for a file, nil if unknown.
func (g *Graph) Stages(fileID string) map[models.StageKind]models.StageState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.files[fileID]
	if !ok {
		return nil
	}
	out := make(map[models.StageKind]models.StageState, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Files returns the ids of all registered files.
func (g *Graph) Files() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.files))
	for id := range g.files {
		out = append(out, id)
	}
	return out
}
