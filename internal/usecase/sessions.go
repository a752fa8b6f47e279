package usecase

import (
	"sync"

	"github.com/google/uuid"

	"ragkit/internal/domain"
)

// SessionStore keeps conversation histories in memory, keyed by session id.
// Histories exist to feed query revision; they are not durable state.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Turn
	maxTurns int
}

func NewSessionStore(maxTurns int) *SessionStore {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &SessionStore{
		sessions: make(map[string][]domain.Turn),
		maxTurns: maxTurns,
	}
}

// Open returns the id of a new empty session.
func (s *SessionStore) Open() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = nil
	s.mu.Unlock()
	return id
}

// Append records a turn. Unknown ids are created implicitly so callers can
// bring their own session identifiers. Oldest turns are dropped beyond
// maxTurns.
func (s *SessionStore) Append(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.sessions[id], domain.Turn{Role: role, Content: content})
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.sessions[id] = turns
}

// History returns a copy of the session's turns in order, oldest first.
func (s *SessionStore) History(id string) []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.sessions[id]
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear removes a session's history.
func (s *SessionStore) Clear(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
