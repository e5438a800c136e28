package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kbflow/kbflow/internal/events"
	"github.com/kbflow/kbflow/internal/models"
	"github.com/kbflow/kbflow/internal/stage"
	tstate "github.com/kbflow/kbflow/internal/task"
)

// Default poll cadences: task detail while watching a single task, list
// refresh when several are tracked at once.
const (
	DetailPollInterval = 2 * time.Second
	ListPollInterval   = 5 * time.Second
)

// API is the full task boundary the manager needs: the poll reads plus
// the two user-requested mutations.
type API interface {
	Backend
	CancelTask(ctx context.Context, id, reason string) (*models.Task, error)
	RetryTask(ctx context.Context, id string, opts map[string]any) (*models.Task, error)
}

// Manager tracks multiple tasks as independent reconciler instances,
// each with its own timer and socket.
type Manager struct {
	api          API
	dial         DialFunc
	bus          *events.Bus
	graph        *stage.Graph
	logger       *slog.Logger
	interval     time.Duration
	fetchTimeout time.Duration
	connListener func(taskID string, connected bool)

	mu       sync.Mutex
	trackers map[string]*Reconciler
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer enables the push channel.
func WithDialer(d DialFunc) Option {
	return func(m *Manager) { m.dial = d }
}

// WithBus attaches the invalidation event bus.
func WithBus(b *events.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithStageGraph feeds completed ingestion tasks into the per-file
// stage graph.
func WithStageGraph(g *stage.Graph) Option {
	return func(m *Manager) { m.graph = g }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPollInterval overrides the poll cadence for new trackers.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithFetchTimeout bounds each individual poll or result fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.fetchTimeout = d }
}

// WithConnectionListener reports socket connect/disconnect per task,
// for session state display.
func WithConnectionListener(f func(taskID string, connected bool)) Option {
	return func(m *Manager) { m.connListener = f }
}

// NewManager creates a tracking manager.
func NewManager(api API, opts ...Option) *Manager {
	m := &Manager{
		api:          api,
		logger:       slog.Default(),
		interval:     DetailPollInterval,
		fetchTimeout: 10 * time.Second,
		trackers:     make(map[string]*Reconciler),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Track begins tracking a task and returns its reconciler. Tracking an
// already-tracked id returns the existing reconciler.
func (m *Manager) Track(t *models.Task) *Reconciler {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.trackers[t.ID]; ok {
		return r
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		taskID:       t.ID,
		backend:      m.api,
		dial:         m.dial,
		bus:          m.bus,
		graph:        m.graph,
		logger:       m.logger.With("task_id", t.ID),
		interval:     m.interval,
		fetchTimeout: m.fetchTimeout,
		connListener: m.connListener,
		m:            newMachine(t),
		inputs:       make(chan input, 16),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.trackers[t.ID] = r

	go r.run(ctx)
	go func() {
		<-r.done
		m.mu.Lock()
		delete(m.trackers, t.ID)
		m.mu.Unlock()
	}()

	m.logger.Info("tracking task", "task_id", t.ID, "type", t.TaskType, "status", t.Status)
	return r
}

// Get returns the reconciler for a task id, nil if not tracked.
func (m *Manager) Get(id string) *Reconciler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackers[id]
}

// Tracked returns the ids of all currently tracked tasks.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels tracking for one task id.
func (m *Manager) Stop(id string) {
	if r := m.Get(id); r != nil {
		r.Stop()
	}
}

// StopAll cancels all trackers, releasing every timer and socket.
func (m *Manager) StopAll() {
	m.mu.Lock()
	trackers := make([]*Reconciler, 0, len(m.trackers))
	for _, r := range m.trackers {
		trackers = append(trackers, r)
	}
	m.mu.Unlock()

	for _, r := range trackers {
		r.Stop()
	}
}

// Cancel requests cancellation of a task. The backend owns the actual
// transition; any running tracker observes it on a later channel event.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*models.Task, error) {
	t, err := m.api.CancelTask(ctx, id, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.TaskDetail(id))
		m.bus.Publish(events.TaskList())
	}
	return t, nil
}

// Retry retries a failed or cancelled task. The backend returns a new
// task id: the old tracker is stopped and tracking re-points to the new
// task, never to the old id.
func (m *Manager) Retry(ctx context.Context, id string, opts map[string]any) (*models.Task, *Reconciler, error) {
	if r := m.Get(id); r != nil {
		r.Stop()
	}

	t, err := m.api.RetryTask(ctx, id, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("retry task: %w", err)
	}
	if _, cerr := tstate.Classify(t.Status); cerr != nil {
		m.logger.Warn("retry returned unrecognized status", "task_id", t.ID, "status", t.Status)
	}
	if m.bus != nil {
		m.bus.Publish(events.TaskList())
	}

	m.logger.Info("task retried", "old_task_id", id, "new_task_id", t.ID)
	return t, m.Track(t), nil
}
