// Package pipeline decides which pipeline actions are currently valid
// for a knowledge base version. The gate is a pure function over the
// version status and the set of tasks already active for that version;
// callers must re-derive it after every version fetch and never cache
// the result across observations.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/kbflow/kbflow/internal/models"
)

// ErrNotPermitted is returned when an action is rejected by the gate
// before any backend call is made.
var ErrNotPermitted = errors.New("action not permitted")

// Action names one triggerable pipeline action.
type Action string

const (
	ActionIngest  Action = "ingest"
	ActionBuild   Action = "build"
	ActionPublish Action = "publish"
)

// Active records which task types are currently in flight for a version.
// It keeps the console from triggering a second build while one is
// outstanding; the backend does not enforce this.
type Active struct {
	Ingest  bool
	Build   bool
	Publish bool
}

// ActiveFromTasks derives the Active set from a task listing, counting
// only tasks scoped to versionID that are still in flight.
func ActiveFromTasks(versionID string, tasks []models.Task) Active {
	var a Active
	for _, t := range tasks {
		if t.KnowledgeBaseVersionID != versionID || !isActive(t.Status) {
			continue
		}
		switch t.TaskType {
		case models.TaskTypeIngestion:
			a.Ingest = true
		case models.TaskTypeIndexing:
			a.Build = true
		case models.TaskTypePublishing:
			a.Publish = true
		}
	}
	return a
}

func isActive(s models.TaskStatus) bool {
	return s == models.TaskStatusPending || s == models.TaskStatusRunning
}

// Actions is the set of currently permitted pipeline actions.
type Actions struct {
	CanIngest  bool
	CanBuild   bool
	CanPublish bool
}

// Evaluate computes the permitted actions for a version. No network
// calls happen here; both inputs come from the caller's latest fetch.
func Evaluate(status models.VersionStatus, active Active) Actions {
	return Actions{
		CanIngest: status != models.VersionStatusBuilding &&
			status != models.VersionStatusPublished &&
			!active.Ingest && !active.Build,
		CanBuild:   status != models.VersionStatusBuilding && !active.Build,
		CanPublish: status == models.VersionStatusReady && !active.Publish && !active.Build,
	}
}

// Allows reports whether the given action is permitted.
func (a Actions) Allows(act Action) bool {
	switch act {
	case ActionIngest:
		return a.CanIngest
	case ActionBuild:
		return a.CanBuild
	case ActionPublish:
		return a.CanPublish
	default:
		return false
	}
}

// Check returns ErrNotPermitted (wrapped with context) when act is not
// currently allowed for the version.
func (a Actions) Check(act Action, status models.VersionStatus) error {
	if a.Allows(act) {
		return nil
	}
	return fmt.Errorf("%w: %s (version status %q)", ErrNotPermitted, act, status)
}
