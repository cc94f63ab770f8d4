package auth

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/psp-hub/platform/internal/shared/config"
)

// ErrSessionEnded is returned for a token whose session was never opened,
// was signed out, went idle or expired.
var ErrSessionEnded = errors.New("session ended")

// SessionConfig holds request session limits
type SessionConfig struct {
	IdleTimeout           time.Duration
	MaxConcurrentSessions int
}

// DefaultSessionConfig returns default session configuration
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:           30 * time.Minute,
		MaxConcurrentSessions: 5,
	}
}

// SessionConfigFrom reads session limits from auth configuration, keeping
// defaults for unset values.
func SessionConfigFrom(cfg config.AuthConfig) SessionConfig {
	out := DefaultSessionConfig()
	if cfg.IdleTimeout > 0 {
		out.IdleTimeout = cfg.IdleTimeout
	}
	if cfg.MaxSessionsPerUser > 0 {
		out.MaxConcurrentSessions = cfg.MaxSessionsPerUser
	}
	return out
}

// Session is one signed-in client, keyed by its token id.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// IsExpired checks if the session has passed its token expiry
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsIdle checks if the session has been idle for too long
func (s *Session) IsIdle(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.LastActivityAt) > timeout
}

// Sessions tracks the open request sessions of this process. A token is only
// honoured while its session is open.
type Sessions struct {
	cfg SessionConfig
	now func() time.Time

	mu   sync.Mutex
	open map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions(cfg SessionConfig) *Sessions {
	return &Sessions{cfg: cfg, now: time.Now, open: make(map[string]*Session)}
}

// Open starts a session for token id. Reopening an open id refreshes it.
// When the user is at the concurrency cap the oldest session ends.
func (s *Sessions) Open(id, userID string, expiresAt time.Time) *Session {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.open[id]; ok {
		sess.LastActivityAt = now
		out := *sess
		return &out
	}

	if limit := s.cfg.MaxConcurrentSessions; limit > 0 {
		var mine []*Session
		for _, sess := range s.open {
			if sess.UserID == userID {
				mine = append(mine, sess)
			}
		}
		sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.Before(mine[j].CreatedAt) })
		for len(mine) >= limit {
			delete(s.open, mine[0].ID)
			mine = mine[1:]
		}
	}

	sess := &Session{ID: id, UserID: userID, CreatedAt: now, LastActivityAt: now, ExpiresAt: expiresAt}
	s.open[id] = sess
	out := *sess
	return &out
}

// Touch records activity on session id. It fails with ErrSessionEnded, and
// forgets the session, once it is idle or expired.
func (s *Sessions) Touch(id string) (*Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.open[id]
	if !ok {
		return nil, ErrSessionEnded
	}
	if sess.IsExpired(now) || sess.IsIdle(now, s.cfg.IdleTimeout) {
		delete(s.open, id)
		return nil, ErrSessionEnded
	}
	sess.LastActivityAt = now
	out := *sess
	return &out, nil
}

// End closes session id. Ending an unknown id is a no-op.
func (s *Sessions) End(id string) {
	s.mu.Lock()
	delete(s.open, id)
	s.mu.Unlock()
}

// Sweep drops idle and expired sessions and returns how many it removed.
func (s *Sessions) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.open {
		if sess.IsExpired(now) || sess.IsIdle(now, s.cfg.IdleTimeout) {
			delete(s.open, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}
