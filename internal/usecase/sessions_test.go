package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkit/internal/domain"
)

func TestSessionTurnOrder(t *testing.T) {
	s := NewSessionStore(10)
	id := s.Open()

	s.Append(id, domain.RoleUser, "first question")
	s.Append(id, domain.RoleAssistant, "first answer")
	s.Append(id, domain.RoleUser, "second question")

	history := s.History(id)
	require.Len(t, history, 3)
	assert.Equal(t, "first question", history[0].Content)
	assert.Equal(t, "first answer", history[1].Content)
	assert.Equal(t, "second question", history[2].Content)
}

func TestSessionIDsAreUnique(t *testing.T) {
	s := NewSessionStore(10)
	assert.NotEqual(t, s.Open(), s.Open())
}

func TestSessionClearIsExplicit(t *testing.T) {
	s := NewSessionStore(10)
	id := s.Open()
	s.Append(id, domain.RoleUser, "hello")

	// History survives arbitrary reads; only Clear removes it.
	require.Len(t, s.History(id), 1)
	require.Len(t, s.History(id), 1)

	s.Clear(id)
	assert.Empty(t, s.History(id))
}

func TestSessionCapsTurns(t *testing.T) {
	s := NewSessionStore(4)
	id := s.Open()
	for i := 0; i < 10; i++ {
		s.Append(id, domain.RoleUser, string(rune('a'+i)))
	}

	history := s.History(id)
	require.Len(t, history, 4)
	assert.Equal(t, "g", history[0].Content, "oldest turns are dropped first")
	assert.Equal(t, "j", history[3].Content)
}

func TestSessionImplicitCreate(t *testing.T) {
	s := NewSessionStore(10)
	s.Append("caller-chosen-id", domain.RoleUser, "hi")
	assert.Len(t, s.History("caller-chosen-id"), 1)
}

func TestSessionHistoryIsACopy(t *testing.T) {
	s := NewSessionStore(10)
	id := s.Open()
	s.Append(id, domain.RoleUser, "original")

	history := s.History(id)
	history[0].Content = "mutated"
	assert.Equal(t, "original", s.History(id)[0].Content)
}
