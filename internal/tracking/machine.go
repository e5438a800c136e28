// Package tracking reconciles the two task update channels (periodic
// polling and the push socket) into one authoritative view per task.
//
// The reconciler is split into a pure transition machine (this file),
// which turns inbound events into state changes plus effects, and a
// side-effecting shell (reconciler.go) that owns the poll timer and the
// socket and executes those effects.
package tracking

import (
	"reflect"

	"github.com/kbflow/kbflow/internal/events"
	"github.com/kbflow/kbflow/internal/models"
	tstate "github.com/kbflow/kbflow/internal/task"
)

// View is the reconciled, authoritative view of one tracked task.
// Status is owned by the poll channel until a terminal push frame
// short-circuits it; Progress/Message/CurrentStep follow the most
// recent push frame until the terminal TaskResult supersedes them.
type View struct {
	TaskID         string
	Status         models.TaskStatus
	Progress       float64 // 0-100
	Message        string
	CurrentStep    string
	ItemsProcessed int
	TotalItems     int
	Task           *models.Task
	Result         *models.TaskResult
	Finished       bool
}

// input is one discrete event fed into the transition machine.
type input interface{ isInput() }

// pollResult carries one poll channel response. seq orders requests so
// that a stale response never regresses a newer one.
type pollResult struct {
	seq  uint64
	task *models.Task
	err  error
}

// pushFrame carries one socket frame.
type pushFrame struct {
	update models.ProgressUpdate
}

// terminalFetch carries the one-shot authoritative re-fetch issued after
// a terminal status was observed. task is nil on the poll-terminal path
// (the poll response itself was authoritative).
type terminalFetch struct {
	task   *models.Task
	result *models.TaskResult
	err    error
}

func (pollResult) isInput()    {}
func (pushFrame) isInput()     {}
func (terminalFetch) isInput() {}

// effectKind instructs the shell.
type effectKind int

const (
	effPublish effectKind = iota
	effStopPolling
	effCloseSocket
	effConfirmTerminal // re-fetch task, then fetch result
	effFetchResult     // fetch result only
	effFinish
)

type effect struct {
	kind  effectKind
	event events.Event
}

func publish(e events.Event) effect { return effect{kind: effPublish, event: e} }

// machine is the pure reconciliation state. Methods mutate the machine
// and return effects; they perform no I/O.
type machine struct {
	view       View
	appliedSeq uint64
	fetching   bool // terminal fetch already dispatched
}

func newMachine(t *models.Task) machine {
	return machine{
		view: View{
			TaskID: t.ID,
			Status: t.Status,
			Task:   t,
		},
	}
}

func (m *machine) terminal() bool {
	return tstate.IsTerminal(m.view.Status)
}

// start returns the effects needed when tracking begins: a task that is
// already terminal skips straight to the result fetch.
func (m *machine) start() []effect {
	if m.terminal() && !m.fetching {
		m.fetching = true
		return []effect{
			{kind: effStopPolling},
			{kind: effCloseSocket},
			{kind: effFetchResult},
		}
	}
	return nil
}

// apply dispatches one input to its transition.
func (m *machine) apply(in input) []effect {
	switch ev := in.(type) {
	case pollResult:
		return m.applyPoll(ev)
	case pushFrame:
		return m.applyPush(ev)
	case terminalFetch:
		return m.applyTerminalFetch(ev)
	default:
		return nil
	}
}

// applyPoll applies an authoritative poll response. Last-requested-wins:
// a response for an older request than the newest applied one is
// discarded, as is anything arriving after a terminal status.
func (m *machine) applyPoll(p pollResult) []effect {
	if p.err != nil || m.view.Finished || m.terminal() {
		return nil
	}
	if p.seq <= m.appliedSeq {
		return nil
	}
	m.appliedSeq = p.seq

	// Re-applying an identical snapshot must emit nothing.
	if reflect.DeepEqual(p.task, m.view.Task) {
		return nil
	}

	statusChanged := p.task.Status != m.view.Status
	m.view.Task = p.task
	m.view.Status = p.task.Status

	effs := []effect{publish(events.TaskDetail(m.view.TaskID))}
	if statusChanged {
		effs = append(effs, publish(events.TaskList()))
	}

	if m.terminal() && !m.fetching {
		m.fetching = true
		effs = append(effs,
			effect{kind: effStopPolling},
			effect{kind: effCloseSocket},
			effect{kind: effFetchResult},
		)
	}
	return effs
}

// applyPush applies one socket frame. A non-terminal frame only updates
// the ephemeral progress fields, never the authoritative status; a
// terminal frame takes precedence, stops both channels and triggers the
// authoritative re-fetch.
func (m *machine) applyPush(f pushFrame) []effect {
	if m.view.Finished || m.terminal() {
		return nil
	}

	u := f.update
	if !tstate.IsTerminal(u.Status) {
		changed := false
		if u.Progress != nil && *u.Progress != m.view.Progress {
			m.view.Progress = *u.Progress
			changed = true
		}
		if u.Message != nil && *u.Message != m.view.Message {
			m.view.Message = *u.Message
			changed = true
		}
		if u.CurrentStep != nil && *u.CurrentStep != m.view.CurrentStep {
			m.view.CurrentStep = *u.CurrentStep
			changed = true
		}
		if u.ItemsProcessed != nil && *u.ItemsProcessed != m.view.ItemsProcessed {
			m.view.ItemsProcessed = *u.ItemsProcessed
			changed = true
		}
		if u.TotalItems != nil && *u.TotalItems != m.view.TotalItems {
			m.view.TotalItems = *u.TotalItems
			changed = true
		}
		if !changed {
			return nil
		}
		return []effect{publish(events.TaskDetail(m.view.TaskID))}
	}

	m.view.Status = u.Status
	m.fetching = true
	return []effect{
		effect{kind: effStopPolling},
		effect{kind: effCloseSocket},
		effect{kind: effConfirmTerminal},
		publish(events.TaskDetail(m.view.TaskID)),
		publish(events.TaskList()),
	}
}

// applyTerminalFetch finalizes tracking with server-confirmed data. The
// socket's terminal signal keeps precedence if the re-fetched task has
// not caught up yet.
func (m *machine) applyTerminalFetch(t terminalFetch) []effect {
	if m.view.Finished {
		return nil
	}

	if t.task != nil && tstate.IsTerminal(t.task.Status) {
		m.view.Task = t.task
		m.view.Status = t.task.Status
	}
	if t.result != nil {
		m.view.Result = t.result
		// The terminal result supersedes any pushed progress value.
		m.view.Progress = t.result.SuccessRate() * 100
		m.view.ItemsProcessed = t.result.SucceededCount + t.result.FailedCount + t.result.SkippedCount
		m.view.TotalItems = t.result.TotalItems
	}
	m.view.Finished = true

	effs := []effect{
		publish(events.TaskDetail(m.view.TaskID)),
		publish(events.TaskList()),
	}
	if task := m.view.Task; task != nil && task.KnowledgeBaseVersionID != "" {
		effs = append(effs,
			publish(events.VersionDetail(task.KnowledgeBaseVersionID)),
			publish(events.VersionList()),
		)
		if task.TaskType == models.TaskTypeIngestion {
			effs = append(effs, publish(events.VersionFiles(task.KnowledgeBaseVersionID)))
		}
	}
	return append(effs, effect{kind: effFinish})
}
