// File: internal/auth/session.go
package auth

import (
	"sync"
	"time"
)

// Session tracks whether the portal session established at login is still
// trusted. The portal expires sessions server-side; the TTL here is a
// conservative client-side bound so expired cookies are never relied on.
type Session struct {
	mu            sync.Mutex
	establishedAt time.Time
	ttl           time.Duration
	now           func() time.Time
}

func NewSession(ttl time.Duration) *Session {
	return &Session{ttl: ttl, now: time.Now}
}

// Valid reports whether a login happened within the TTL.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.establishedAt.IsZero() {
		return false
	}
	return s.now().Sub(s.establishedAt) < s.ttl
}

// MarkEstablished records a successful login at the current time.
func (s *Session) MarkEstablished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.establishedAt = s.now()
}

// Invalidate forces the next EnsureAuthenticated to perform a full login.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.establishedAt = time.Time{}
}
