package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kbflow/kbflow/internal/client"
	"github.com/kbflow/kbflow/internal/events"
	"github.com/kbflow/kbflow/internal/models"
	"github.com/kbflow/kbflow/internal/stage"
	tstate "github.com/kbflow/kbflow/internal/task"
)

// Backend is the poll-channel boundary: idempotent reads of a task and
// its terminal result.
type Backend interface {
	FetchTask(ctx context.Context, id string) (*models.Task, error)
	FetchTaskResult(ctx context.Context, id string) (*models.TaskResult, error)
}

// ProgressStream is one open push channel for a task.
type ProgressStream interface {
	Updates() <-chan models.ProgressUpdate
	Close() error
}

// DialFunc opens the push channel for a task. A nil DialFunc disables
// the push channel; the reconciler then relies on polling alone.
type DialFunc func(ctx context.Context, taskID string) (ProgressStream, error)

// Reconciler tracks a single task id. It owns one poll timer and at
// most one socket; both are released on every exit path.
type Reconciler struct {
	taskID       string
	backend      Backend
	dial         DialFunc
	bus          *events.Bus
	graph        *stage.Graph
	logger       *slog.Logger
	interval     time.Duration
	fetchTimeout time.Duration
	connListener func(taskID string, connected bool)

	mu  sync.RWMutex
	m   machine
	seq uint64 // newest issued poll sequence, loop goroutine only

	inputs chan input
	cancel context.CancelFunc
	done   chan struct{}
}

// View returns a snapshot of the reconciled view.
func (r *Reconciler) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m.view
}

// Done is closed once tracking finished: either the terminal result was
// processed or tracking was stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

// Stop cancels tracking. The socket is closed, the timer cleared, and
// responses of in-flight fetches are discarded when they resolve late.
func (r *Reconciler) Stop() {
	r.cancel()
	<-r.done
}

// TaskID returns the tracked task id.
func (r *Reconciler) TaskID() string { return r.taskID }

// step routes one input through the machine and hands the effects to
// the loop for execution.
func (r *Reconciler) step(in input) []effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m.apply(in)
}

// run is the only goroutine that touches the timer and the socket.
func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var stream ProgressStream
	var frames <-chan models.ProgressUpdate
	defer func() {
		if stream != nil {
			stream.Close()
			r.notifyConn(false)
		}
	}()

	polling := true

	closeSocket := func() {
		if stream != nil {
			stream.Close()
			stream = nil
			frames = nil
			r.notifyConn(false)
		}
	}

	// execute applies the shell side of each effect. It returns false
	// when tracking is finished and the loop must exit.
	execute := func(effs []effect) bool {
		for _, e := range effs {
			switch e.kind {
			case effPublish:
				if r.bus != nil {
					r.bus.Publish(e.event)
				}
			case effStopPolling:
				polling = false
				ticker.Stop()
			case effCloseSocket:
				closeSocket()
			case effConfirmTerminal:
				go r.fetchTerminal(ctx, true)
			case effFetchResult:
				go r.fetchTerminal(ctx, false)
			case effFinish:
				r.feedStageGraph()
				r.cancel() // release any in-flight fetch goroutines
				return false
			}
		}
		return true
	}

	// A task handed to Track in a terminal state goes straight to the
	// result fetch; otherwise open the push channel and start polling.
	r.mu.Lock()
	startEffs := r.m.start()
	active := !r.m.terminal()
	r.mu.Unlock()

	execute(startEffs)

	if active && r.dial != nil {
		s, err := r.dial(ctx, r.taskID)
		if err != nil {
			r.logger.Warn("progress socket unavailable, polling only", "error", err)
		} else {
			stream = s
			frames = s.Updates()
			r.notifyConn(true)
		}
	}

	if active {
		r.issuePoll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if polling {
				r.issuePoll(ctx)
			}

		case u, ok := <-frames:
			if !ok {
				// Socket dropped; polling keeps the view current. No
				// reconnect once a terminal status has been observed.
				frames = nil
				closeSocket()
				continue
			}
			if u.TaskID != "" && u.TaskID != r.taskID {
				continue
			}
			if !execute(r.step(pushFrame{update: u})) {
				return
			}

		case in := <-r.inputs:
			if p, ok := in.(pollResult); ok {
				r.logPoll(p)
			}
			if !execute(r.step(in)) {
				return
			}
		}
	}
}

// issuePoll fetches the task in a goroutine, tagged with the next
// sequence number so stale responses are discarded by the machine.
func (r *Reconciler) issuePoll(ctx context.Context) {
	r.seq++
	seq := r.seq
	go func() {
		cctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()

		t, err := r.backend.FetchTask(cctx, r.taskID)
		select {
		case r.inputs <- pollResult{seq: seq, task: t, err: err}:
		case <-ctx.Done():
		}
	}()
}

// fetchTerminal performs the one-shot terminal fetch: optionally the
// authoritative task re-fetch (socket-terminal path), then the result.
func (r *Reconciler) fetchTerminal(ctx context.Context, refetchTask bool) {
	cctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	var t *models.Task
	var taskErr error
	if refetchTask {
		t, taskErr = r.backend.FetchTask(cctx, r.taskID)
		if taskErr != nil {
			r.logger.Warn("terminal task re-fetch failed", "task_id", r.taskID, "error", taskErr)
		}
	}

	res, resErr := r.backend.FetchTaskResult(cctx, r.taskID)
	if resErr != nil {
		r.logger.Warn("task result fetch failed", "task_id", r.taskID, "error", resErr)
	}

	select {
	case r.inputs <- terminalFetch{task: t, result: res, err: errors.Join(taskErr, resErr)}:
	case <-ctx.Done():
	}
}

// logPoll surfaces poll-channel warnings without affecting state:
// transient errors are retried on the next tick, unknown statuses are
// displayed as pending.
func (r *Reconciler) logPoll(p pollResult) {
	if p.err != nil {
		if client.IsTransient(p.err) {
			r.logger.Debug("poll failed, retrying next tick", "task_id", r.taskID, "error", p.err)
		} else {
			r.logger.Warn("poll failed", "task_id", r.taskID, "error", p.err)
		}
		return
	}
	if _, err := tstate.Classify(p.task.Status); err != nil {
		r.logger.Warn("backend reported unrecognized task status", "task_id", r.taskID, "status", p.task.Status)
	}
}

// feedStageGraph unlocks dependent stages once a file-scoped stage task
// completes. The owning file and stage travel in the task metadata.
func (r *Reconciler) feedStageGraph() {
	if r.graph == nil {
		return
	}

	v := r.View()
	if v.Task == nil || v.Task.TaskType != models.TaskTypeIngestion {
		return
	}
	fileID, _ := v.Task.Metadata["file_id"].(string)
	if fileID == "" {
		return
	}
	kind := models.StageExtraction
	if s, ok := v.Task.Metadata["stage"].(string); ok && s != "" {
		kind = models.StageKind(s)
	}
	r.graph.ApplyTaskStatus(fileID, kind, v.Status)
}

func (r *Reconciler) notifyConn(connected bool) {
	if r.connListener != nil {
		r.connListener(r.taskID, connected)
	}
}
