package models

import (
	"math"
	"time"
)

type SessionState string

const (
	SessionNormal    SessionState = "normal"
	SessionDeveloper SessionState = "developer"
	SessionBlocked   SessionState = "blocked"
)

// Session is the server-side abuse and developer-mode state of one chat session.
type Session struct {
	SessionID    string     `json:"sessionId"`
	IsDeveloper  bool       `json:"isDeveloper"`
	Attempts     int        `json:"attempts"`
	LastAttempt  time.Time  `json:"lastAttempt"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
}

func NewSession(sessionID string, now time.Time) *Session {
	return &Session{
		SessionID:   sessionID,
		LastAttempt: now,
	}
}

// IsBlocked reports whether the lockout is still in the future. A lockout in
// the past is the same as no lockout.
func (s *Session) IsBlocked(now time.Time) bool {
	return s.BlockedUntil != nil && s.BlockedUntil.After(now)
}

// LockoutElapsed reports whether the session was locked and the lock is over.
func (s *Session) LockoutElapsed(now time.Time) bool {
	return s.BlockedUntil != nil && !s.BlockedUntil.After(now)
}

// RemainingMinutes rounds the remaining lockout up to whole minutes.
func (s *Session) RemainingMinutes(now time.Time) int {
	if !s.IsBlocked(now) {
		return 0
	}
	return int(math.Ceil(s.BlockedUntil.Sub(now).Minutes()))
}

func (s *Session) State(now time.Time) SessionState {
	switch {
	case s.IsBlocked(now):
		return SessionBlocked
	case s.IsDeveloper:
		return SessionDeveloper
	default:
		return SessionNormal
	}
}

func (s *Session) Clone() *Session {
	c := *s
	if s.BlockedUntil != nil {
		t := *s.BlockedUntil
		c.BlockedUntil = &t
	}
	return &c
}
