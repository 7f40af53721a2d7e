package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store owns every session. Access to one session is serialized through
// WithSession; different conversations proceed in parallel.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
	logger   *zap.Logger
}

type entry struct {
	// turn holds one token while a caller owns the session.
	turn    chan struct{}
	refs    int
	session *Session
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
		logger:   logger,
	}
}

// WithSession runs fn with exclusive access to the session for key, creating
// it on first contact. Waiting for the session gives up when ctx is done.
// LastSeen is refreshed before fn runs. The lock is released even if fn
// panics.
func (s *Store) WithSession(ctx context.Context, key string, fn func(*Session) error) error {
	e := s.acquire(key)
	defer s.release(e)

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.turn }()

	e.session.LastSeen = s.now()
	return fn(e.session)
}

func (s *Store) acquire(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[key]
	if !ok {
		e = &entry{turn: make(chan struct{}, 1), session: newSession(s.now())}
		s.sessions[key] = e
	}
	e.refs++
	return e
}

func (s *Store) release(e *entry) {
	s.mu.Lock()
	e.refs--
	s.mu.Unlock()
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than maxIdle that nobody is using and
// returns how many were removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for key, e := range s.sessions {
		if e.refs > 0 {
			continue
		}
		if e.session.LastSeen.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(maxIdle); n > 0 {
				s.logger.Info("idle sessions evicted", zap.Int("count", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}
