// Package events distributes cache invalidation events. The tracking
// core never touches a cache directly: it publishes the transition it
// observed and the boundary (query cache, UI refresh, ...) subscribes
// and translates events into concrete invalidations.
package events

import (
	"log/slog"
	"sync"
)

// Kind identifies the scope of an invalidation event.
type Kind string

const (
	TaskListChanged      Kind = "task-list-changed"
	TaskDetailChanged    Kind = "task-detail-changed"
	VersionListChanged   Kind = "version-list-changed"
	VersionDetailChanged Kind = "version-detail-changed"
	VersionFilesChanged  Kind = "version-files-changed"
)

// Event is one invalidation notice. ID carries the task or version id
// for detail-scoped kinds and is empty for list-scoped kinds.
type Event struct {
	Kind Kind
	ID   string
}

// TaskDetail builds a task-detail-changed event.
func TaskDetail(id string) Event { return Event{Kind: TaskDetailChanged, ID: id} }

// TaskList builds a task-list-changed event.
func TaskList() Event { return Event{Kind: TaskListChanged} }

// VersionDetail builds a version-detail-changed event.
func VersionDetail(id string) Event { return Event{Kind: VersionDetailChanged, ID: id} }

// VersionList builds a version-list-changed event.
func VersionList() Event { return Event{Kind: VersionListChanged} }

// VersionFiles builds a version-files-changed event.
func VersionFiles(id string) Event { return Event{Kind: VersionFilesChanged, ID: id} }

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int
	logger *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets a custom logger for the bus.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an event bus with no subscribers.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[int]Handler),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to all current subscribers. A panicking
// handler is logged and dropped from the remaining delivery, it never
// takes the publisher down.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", e.Kind, "id", e.ID, "panic", r)
		}
	}()
	h(e)
}
