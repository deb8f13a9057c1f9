// Package session implements the in-memory session registry: creation on
// login, activity-based expiry, and destruction on logout. Sessions do not
// survive a restart.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UnknownUser is returned by Destroy when the id was not live.
const UnknownUser = "unknown"

// ID identifies a live session. It is an opaque random token.
type ID string

// Session is one authenticated login.
type Session struct {
	ID           ID
	Username     string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store is a concurrency-safe session registry with lazy expiry: a session
// whose inactivity exceeds the timeout is removed the next time Validate
// looks at it. There is no background sweeper.
//
// The mutex is held only for map access, never for I/O.
type Store struct {
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	newID   func() ID

	mu       sync.Mutex
	sessions map[ID]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store whose sessions expire after timeout of
// inactivity.
func NewStore(timeout time.Duration, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		newID:    randomID,
		sessions: make(map[ID]*Session),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// randomID draws a version 4 UUID from crypto/rand.
func randomID() ID {
	return ID(uuid.NewString())
}

// Create starts a new session for username and returns its id.
func (s *Store) Create(username string) ID {
	now := s.now()

	s.mu.Lock()

	id := s.newID()
	for s.sessions[id] != nil {
		id = s.newID()
	}

	s.sessions[id] = &Session{
		ID:           id,
		Username:     username,
		CreatedAt:    now,
		LastActivity: now,
	}
	live := len(s.sessions)

	s.mu.Unlock()

	s.logger.Info("session created",
		slog.String("user", username),
		slog.Int("live_sessions", live),
	)

	return id
}

// Validate reports whether id names a live session. A session idle for
// longer than the timeout is removed and reported invalid; repeated calls
// then keep returning false. A valid session is not modified.
func (s *Store) Validate(id ID) bool {
	now := s.now()

	s.mu.Lock()

	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()

		return false
	}

	idle := now.Sub(sess.LastActivity)
	if idle <= s.timeout {
		s.mu.Unlock()

		return true
	}

	delete(s.sessions, id)
	username := sess.Username

	s.mu.Unlock()

	s.logger.Info("session expired",
		slog.String("user", username),
		slog.Duration("idle", idle),
	)

	return false
}

// Get returns a copy of the session without checking expiry.
func (s *Store) Get(id ID) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}

	return *sess, true
}

// Touch records activity on a live session. Unknown ids are ignored.
func (s *Store) Touch(id ID) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
}

// Destroy removes the session unconditionally and returns the username it
// belonged to, or UnknownUser.
func (s *Store) Destroy(id ID) string {
	s.mu.Lock()

	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}

	s.mu.Unlock()

	if !ok {
		return UnknownUser
	}

	s.logger.Info("session destroyed", slog.String("user", sess.Username))

	return sess.Username
}

// Len returns the number of sessions currently held, including ones that
// have expired but not yet been observed by Validate.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
