// Package cache holds small in-memory caches on the request hot path.
package cache

import (
	"sync"
	"time"

	"github.com/mapfy/mapfy/internal/store"
)

// TokenCache caches the account resolved from a bearer token to avoid a
// database read on every authenticated request. Entries expire well before
// the tokens they belong to.
type TokenCache struct {
	m       sync.Mutex
	ttl     time.Duration
	entries map[string]tokenEntry

	// now is swappable for tests.
	now func() time.Time
}

type tokenEntry struct {
	user    store.User
	expires time.Time
}

// NewTokenCache creates a cache whose entries live for ttl.
func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{
		ttl:     ttl,
		entries: make(map[string]tokenEntry),
		now:     time.Now,
	}
}

// Get returns the cached account for a token, if present and fresh.
func (c *TokenCache) Get(token string) (store.User, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	e, ok := c.entries[token]
	if !ok {
		return store.User{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, token)
		return store.User{}, false
	}
	return e.user, true
}

// Add caches the account behind a verified token.
func (c *TokenCache) Add(token string, user store.User) {
	c.m.Lock()
	defer c.m.Unlock()
	c.entries[token] = tokenEntry{user: user, expires: c.now().Add(c.ttl)}
}

// Invalidate drops every cached token for the given account, e.g. after a
// profile change.
func (c *TokenCache) Invalidate(userID uint) {
	c.m.Lock()
	defer c.m.Unlock()
	for token, e := range c.entries {
		if e.user.ID == userID {
			delete(c.entries, token)
		}
	}
}

// Reset drops all entries.
func (c *TokenCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.entries = make(map[string]tokenEntry)
}
