package untis

import (
	"context"
	"errors"
	"sync"

	appLog "github.com/ralle12345/untiswatch/internal/log"
)

// Session owns the remote login state for one account. It is lazily
// acquired and reference-counted: every sub-fetch within an update cycle
// holds a reference, and the backend session is released only when the
// last reference is dropped, unless the session is configured to stay
// alive between cycles.
type Session struct {
	client    *Client
	keepAlive bool

	mu   sync.Mutex
	refs int
}

// NewSession wraps a client. keepAlive keeps the backend session open
// across update cycles.
func NewSession(client *Client, keepAlive bool) *Session {
	return &Session{client: client, keepAlive: keepAlive}
}

// Client returns the underlying client for making calls while a reference
// is held.
func (s *Session) Client() *Client { return s.client }

// Acquire takes a reference, logging in first if there is no live session.
// Every successful Acquire must be paired with a Release.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.client.LoggedIn() {
		if err := s.client.Login(ctx); err != nil {
			return err
		}
	}
	s.refs++
	return nil
}

// Release drops a reference. When the last reference is gone and the
// session is not kept alive, the backend session is logged out.
func (s *Session) Release(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 && !s.keepAlive && s.client.LoggedIn() {
		if err := s.client.Logout(ctx); err != nil {
			appLog.Debug("untis logout failed", "err", err)
		}
	}
}

// Invalidate discards the local session state so the next Acquire logs in
// again. Called after the backend reports the session as stale.
func (s *Session) Invalidate() {
	s.client.sessionID.Store("")
}

// Refs returns the current reference count, for tests and introspection.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// WithSession runs fn while holding a session reference. Calls that fail
// with ErrNotLoggedIn are retried once after re-acquiring, so a session
// that expired server-side heals transparently.
func (s *Session) WithSession(ctx context.Context, fn func(c *Client) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release(ctx)

	err := fn(s.client)
	if errors.Is(err, ErrNotLoggedIn) {
		s.Invalidate()
		if err = s.client.Login(ctx); err != nil {
			return err
		}
		err = fn(s.client)
	}
	return err
}
