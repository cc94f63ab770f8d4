package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/psp-hub/platform/internal/shared/config"
)

// testClock is a settable clock.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessions(cfg SessionConfig) (*Sessions, *testClock) {
	clock := &testClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	s := NewSessions(cfg)
	s.now = clock.now
	return s, clock
}

func TestSessionIsExpired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	if s.IsExpired(now) {
		t.Error("Expected session not expired")
	}
	if !s.IsExpired(now.Add(time.Minute)) {
		t.Error("Expected session expired at its expiry")
	}
}

func TestSessionIsIdle(t *testing.T) {
	now := time.Now()
	s := &Session{LastActivityAt: now.Add(-31 * time.Minute)}
	if !s.IsIdle(now, 30*time.Minute) {
		t.Error("Expected session idle")
	}
	if s.IsIdle(now, 0) {
		t.Error("A zero timeout never idles")
	}
}

func TestSessionConfigFrom(t *testing.T) {
	cfg := SessionConfigFrom(config.AuthConfig{IdleTimeout: time.Minute})
	if cfg.IdleTimeout != time.Minute || cfg.MaxConcurrentSessions != 5 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}

// TestSessionsTouchKeepsActiveSessionOpen tests that activity resets the idle clock
func TestSessionsTouchKeepsActiveSessionOpen(t *testing.T) {
	s, clock := newTestSessions(SessionConfig{IdleTimeout: 10 * time.Minute})
	s.Open("t-1", "u-1", clock.t.Add(time.Hour))

	for i := 0; i < 3; i++ {
		clock.advance(9 * time.Minute)
		if _, err := s.Touch("t-1"); err != nil {
			t.Fatalf("Touch %d failed: %v", i, err)
		}
	}

	clock.advance(11 * time.Minute)
	if _, err := s.Touch("t-1"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected idle session to end, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("Ended session must be forgotten")
	}
}

func TestSessionsExpiry(t *testing.T) {
	s, clock := newTestSessions(SessionConfig{})
	s.Open("t-1", "u-1", clock.t.Add(time.Minute))

	clock.advance(time.Minute)
	if _, err := s.Touch("t-1"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected expired session to end, got %v", err)
	}
}

func TestSessionsEnd(t *testing.T) {
	s, clock := newTestSessions(DefaultSessionConfig())
	s.Open("t-1", "u-1", clock.t.Add(time.Hour))
	s.Open("t-2", "u-1", clock.t.Add(time.Hour))

	s.End("t-1")
	s.End("unknown")
	if _, err := s.Touch("t-1"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected ended session, got %v", err)
	}
	if _, err := s.Touch("t-2"); err != nil {
		t.Errorf("Other session must stay open, got %v", err)
	}
	if _, err := s.Touch("never-opened"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected unknown session rejected, got %v", err)
	}
}

// TestSessionsCapEndsOldest tests that the concurrency cap evicts the oldest session of that user only
func TestSessionsCapEndsOldest(t *testing.T) {
	s, clock := newTestSessions(SessionConfig{MaxConcurrentSessions: 2})
	exp := clock.t.Add(time.Hour)

	s.Open("other", "u-2", exp)
	for _, id := range []string{"a", "b", "c"} {
		clock.advance(time.Second)
		s.Open(id, "u-1", exp)
	}

	if _, err := s.Touch("a"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected oldest session evicted, got %v", err)
	}
	for _, id := range []string{"b", "c", "other"} {
		if _, err := s.Touch(id); err != nil {
			t.Errorf("Expected %s open, got %v", id, err)
		}
	}
}

func TestSessionsReopenRefreshes(t *testing.T) {
	s, clock := newTestSessions(SessionConfig{IdleTimeout: time.Minute, MaxConcurrentSessions: 1})
	first := s.Open("t-1", "u-1", clock.t.Add(time.Hour))

	clock.advance(50 * time.Second)
	again := s.Open("t-1", "u-1", clock.t.Add(time.Hour))
	if !again.CreatedAt.Equal(first.CreatedAt) || !again.LastActivityAt.Equal(clock.t) {
		t.Errorf("Unexpected reopened session: %+v", again)
	}
	if s.Len() != 1 {
		t.Errorf("Reopen must not count against the cap, got %d", s.Len())
	}
}

func TestSessionsSweep(t *testing.T) {
	s, clock := newTestSessions(SessionConfig{IdleTimeout: 10 * time.Minute})
	s.Open("idle", "u-1", clock.t.Add(time.Hour))
	s.Open("short", "u-2", clock.t.Add(5*time.Minute))

	clock.advance(6 * time.Minute)
	s.Open("fresh", "u-3", clock.t.Add(time.Hour))
	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Expected 1 expired session swept, got %d", removed)
	}

	clock.advance(5 * time.Minute)
	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Expected 1 idle session swept, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Expected fresh session left, got %d", s.Len())
	}
}
