// Package appstate holds session-scoped console state behind named
// mutators. Commands read a snapshot instead of sharing mutable globals,
// so concurrent tracking loops and the UI never race on selection state.
package appstate

import (
	"sync"

	"github.com/kbflow/kbflow/internal/models"
)

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	KnowledgeBase *models.KnowledgeBase
	Version       *models.Version
	// SocketConnected maps task ids to live-socket health. False means
	// the tracker for that task is running on polling alone.
	SocketConnected map[string]bool
}

// Store is the session state container. The zero value is not usable,
// call New.
type Store struct {
	mu        sync.RWMutex
	kb        *models.KnowledgeBase
	version   *models.Version
	connected map[string]bool
}

func New() *Store {
	return &Store{
		connected: make(map[string]bool),
	}
}

// SelectKnowledgeBase sets the active knowledge base and clears any
// version selection belonging to a different knowledge base.
func (s *Store) SelectKnowledgeBase(kb *models.KnowledgeBase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kb = kb
	if s.version != nil && (kb == nil || s.version.KnowledgeBaseID != kb.ID) {
		s.version = nil
	}
}

// SelectVersion sets the active version.
func (s *Store) SelectVersion(v *models.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// SetSocketConnected records whether the tracker for taskID has a live
// websocket. Trackers report transitions here so the UI can show a
// degraded badge when a socket drops.
func (s *Store) SetSocketConnected(taskID string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[taskID] = connected
}

// ClearSocket removes the socket entry for a finished tracker.
func (s *Store) ClearSocket(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connected, taskID)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	connected := make(map[string]bool, len(s.connected))
	for id, ok := range s.connected {
		connected[id] = ok
	}

	return Snapshot{
		KnowledgeBase:   s.kb,
		Version:         s.version,
		SocketConnected: connected,
	}
}
