// Package session holds the signed-in user for one editor session. All
// authenticated calls read their bearer token from here; there is no global
// token state.
package session

import "sync"

// User identifies the signed-in account.
type User struct {
	ID    uint
	Name  string
	Email string
}

// Session is the mutable authentication state of one editor session.
type Session struct {
	mu    sync.RWMutex
	user  User
	token string
}

// New creates a signed-out session.
func New() *Session {
	return &Session{}
}

// SignIn installs the account and its bearer token.
func (s *Session) SignIn(u User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
	s.token = token
}

// SignOut clears the account and token.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = User{}
	s.token = ""
}

// IsAuthenticated reports whether a user is signed in.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Token returns the bearer token, empty when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in account.
func (s *Session) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}
