// Package session keeps the bounded per-session conversation window used
// by response synthesis. Redis backs it in deployment; the in-memory store
// serves tests and single-process development.
package session

import (
	"context"
	"sync"

	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

// MemoryStore is a process-local session store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]pipeline.Message
	capacity int
}

// NewMemoryStore creates an in-memory session store keeping at most
// capacity messages per session.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 50
	}
	return &MemoryStore{
		sessions: make(map[string][]pipeline.Message),
		capacity: capacity,
	}
}

// Append adds one message to the session window.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msg pipeline.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.sessions[sessionID], msg)
	if len(msgs) > s.capacity {
		msgs = msgs[len(msgs)-s.capacity:]
	}
	s.sessions[sessionID] = msgs
	return nil
}

// Recent returns up to n most recent messages, oldest first.
func (s *MemoryStore) Recent(_ context.Context, sessionID string, n int) ([]pipeline.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sessions[sessionID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]pipeline.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

var _ pipeline.SessionStore = (*MemoryStore)(nil)
