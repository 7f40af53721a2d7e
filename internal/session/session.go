// Package session keeps the per-conversation dialog state in process memory.
package session

import (
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/returns"
	"github.com/boddenberg/fenix-agent-go/internal/sales"
)

// historySize bounds the exchanges kept per conversation.
const historySize = 20

// Role tells who wrote a history entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Entry is one remembered message.
type Entry struct {
	Role Role
	Text string
	At   time.Time
}

// Session is the mutable record of one conversation.
type Session struct {
	Profile  *domain.OperatorProfile
	Sale     sales.State
	Return   returns.State
	LastSeen time.Time

	history []Entry
}

func newSession(now time.Time) *Session {
	return &Session{
		Sale:     sales.NewState(),
		Return:   returns.State{Step: returns.StepInitial},
		LastSeen: now,
	}
}

// Reset discards both drafts and keeps the operator profile.
func (s *Session) Reset() {
	s.Sale.Reset()
	s.Return.Reset()
}

// Remember appends to the bounded history.
func (s *Session) Remember(role Role, text string, at time.Time) {
	s.history = append(s.history, Entry{Role: role, Text: text, At: at})
	if over := len(s.history) - historySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns a copy of the remembered messages, oldest first.
func (s *Session) History() []Entry {
	return append([]Entry(nil), s.history...)
}
