package tracking

import (
	"testing"
	"time"

	"github.com/kbflow/kbflow/internal/events"
	"github.com/kbflow/kbflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskFixture(status models.TaskStatus) *models.Task {
	return &models.Task{
		ID:                     "t1",
		TaskType:               models.TaskTypeIngestion,
		Status:                 status,
		CreatedAt:              time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		KnowledgeBaseID:        "kb1",
		KnowledgeBaseVersionID: "v1",
	}
}

func kinds(effs []effect) []effectKind {
	out := make([]effectKind, 0, len(effs))
	for _, e := range effs {
		out = append(out, e.kind)
	}
	return out
}

func published(effs []effect) []events.Event {
	var out []events.Event
	for _, e := range effs {
		if e.kind == effPublish {
			out = append(out, e.event)
		}
	}
	return out
}

func fptr(f float64) *float64 { return &f }
func sptr(s string) *string   { return &s }
func iptr(i int) *int         { return &i }

// Full dual-channel walkthrough: poll owns the status, push owns the
// ephemeral progress, a terminal push short-circuits everything.
func TestMachine_DualChannelLifecycle(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusPending))

	// Poll confirms the transition to running.
	running := taskFixture(models.TaskStatusRunning)
	startedAt := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	running.StartedAt = &startedAt

	effs := m.apply(pollResult{seq: 1, task: running})
	assert.Equal(t, models.TaskStatusRunning, m.view.Status)
	assert.Contains(t, published(effs), events.TaskDetail("t1"))
	assert.Contains(t, published(effs), events.TaskList())

	// Push delivers progress; status stays poll-owned.
	effs = m.apply(pushFrame{update: models.ProgressUpdate{
		TaskID:   "t1",
		Status:   models.TaskStatusRunning,
		Progress: fptr(40),
		Message:  sptr("embedding chunk 4/10"),
	}})
	assert.Equal(t, models.TaskStatusRunning, m.view.Status)
	assert.Equal(t, 40.0, m.view.Progress)
	assert.Equal(t, "embedding chunk 4/10", m.view.Message)
	assert.Equal(t, []events.Event{events.TaskDetail("t1")}, published(effs))

	// An unchanged poll response emits nothing.
	unchanged := *running
	effs = m.apply(pollResult{seq: 2, task: &unchanged})
	assert.Empty(t, effs, "re-applying an identical snapshot must be silent")

	// Terminal push short-circuits: stop polling, close socket, confirm.
	effs = m.apply(pushFrame{update: models.ProgressUpdate{
		TaskID: "t1",
		Status: models.TaskStatusCompleted,
	}})
	assert.Equal(t, models.TaskStatusCompleted, m.view.Status)
	assert.Contains(t, kinds(effs), effStopPolling)
	assert.Contains(t, kinds(effs), effCloseSocket)
	assert.Contains(t, kinds(effs), effConfirmTerminal)

	// Authoritative re-fetch confirms timestamps, result sets progress.
	confirmed := taskFixture(models.TaskStatusCompleted)
	completedAt := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	confirmed.StartedAt = &startedAt
	confirmed.CompletedAt = &completedAt

	effs = m.apply(terminalFetch{
		task:   confirmed,
		result: &models.TaskResult{TaskID: "t1", TotalItems: 10, SucceededCount: 10},
	})
	require.True(t, m.view.Finished)
	assert.Equal(t, 100.0, m.view.Progress)
	assert.NotNil(t, m.view.Task.CompletedAt)
	assert.Contains(t, kinds(effs), effFinish)

	// Ingestion terminal invalidates the version scope including files.
	evs := published(effs)
	assert.Contains(t, evs, events.VersionDetail("v1"))
	assert.Contains(t, evs, events.VersionList())
	assert.Contains(t, evs, events.VersionFiles("v1"))

	// Nothing is applied after finish.
	assert.Empty(t, m.apply(pollResult{seq: 3, task: running}))
	assert.Empty(t, m.apply(pushFrame{update: models.ProgressUpdate{Status: models.TaskStatusFailed}}))
}

func TestMachine_NonTerminalPushNeverChangesStatus(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusPending))

	// A transient out-of-order frame claiming "running" must not
	// fabricate a status the poll channel has not confirmed.
	effs := m.apply(pushFrame{update: models.ProgressUpdate{
		TaskID:      "t1",
		Status:      models.TaskStatusRunning,
		Progress:    fptr(10),
		CurrentStep: sptr("extract"),
	}})

	assert.Equal(t, models.TaskStatusPending, m.view.Status)
	assert.Equal(t, 10.0, m.view.Progress)
	assert.Equal(t, "extract", m.view.CurrentStep)
	assert.Equal(t, []events.Event{events.TaskDetail("t1")}, published(effs))
}

func TestMachine_LastRequestedWins(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusPending))

	running := taskFixture(models.TaskStatusRunning)
	m.apply(pollResult{seq: 2, task: running})
	require.Equal(t, models.TaskStatusRunning, m.view.Status)

	// A slower, earlier-issued poll resolves late and must be dropped.
	stale := taskFixture(models.TaskStatusPending)
	effs := m.apply(pollResult{seq: 1, task: stale})
	assert.Empty(t, effs)
	assert.Equal(t, models.TaskStatusRunning, m.view.Status)
}

func TestMachine_PollErrorIsTransient(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusRunning))

	effs := m.apply(pollResult{seq: 1, err: assert.AnError})
	assert.Empty(t, effs)
	assert.Equal(t, models.TaskStatusRunning, m.view.Status)
	assert.False(t, m.view.Finished)
}

func TestMachine_PollTerminalFetchesResult(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusRunning))

	failed := taskFixture(models.TaskStatusFailed)
	effs := m.apply(pollResult{seq: 1, task: failed})
	assert.Contains(t, kinds(effs), effStopPolling)
	assert.Contains(t, kinds(effs), effCloseSocket)
	assert.Contains(t, kinds(effs), effFetchResult)
	assert.NotContains(t, kinds(effs), effConfirmTerminal, "poll is already authoritative")

	effs = m.apply(terminalFetch{result: &models.TaskResult{
		TaskID:         "t1",
		TotalItems:     4,
		SucceededCount: 1,
		FailedCount:    3,
		Errors: []models.ProcessingError{
			{ItemID: "f2", Step: "qa", ErrorType: "llm_timeout", Recoverable: true},
		},
	}})
	assert.True(t, m.view.Finished)
	assert.Equal(t, 25.0, m.view.Progress)
	require.NotNil(t, m.view.Result)
	assert.True(t, m.view.Result.Errors[0].Recoverable)
	assert.Contains(t, kinds(effs), effFinish)
}

func TestMachine_PushItemCounters(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusRunning))

	m.apply(pushFrame{update: models.ProgressUpdate{
		TaskID:         "t1",
		Status:         models.TaskStatusRunning,
		ItemsProcessed: iptr(3),
		TotalItems:     iptr(12),
	}})
	assert.Equal(t, 3, m.view.ItemsProcessed)
	assert.Equal(t, 12, m.view.TotalItems)
}

func TestMachine_StartWithTerminalTask(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusCompleted))

	effs := m.start()
	assert.Contains(t, kinds(effs), effStopPolling)
	assert.Contains(t, kinds(effs), effFetchResult)

	// start is idempotent.
	assert.Empty(t, m.start())
}

func TestMachine_SocketPrecedenceOnDisagreement(t *testing.T) {
	m := newMachine(taskFixture(models.TaskStatusRunning))

	// Socket says failed; the re-fetched task has not caught up yet.
	m.apply(pushFrame{update: models.ProgressUpdate{TaskID: "t1", Status: models.TaskStatusFailed}})
	require.Equal(t, models.TaskStatusFailed, m.view.Status)

	lagging := taskFixture(models.TaskStatusRunning)
	m.apply(terminalFetch{task: lagging, result: nil})

	assert.Equal(t, models.TaskStatusFailed, m.view.Status, "socket terminal signal keeps precedence")
	assert.True(t, m.view.Finished)
}
