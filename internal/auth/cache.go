package auth

import (
	"sync"
	"time"
)

// tokenCache holds positive verification results until the token expires.
// Tokens without an expiry claim get a short fixed lifetime instead.
const defaultCacheTTL = time.Minute

type cacheEntry struct {
	claims  Claims
	expires time.Time
}

type tokenCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]cacheEntry)}
}

func (c *tokenCache) get(token string) (Claims, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok {
		return Claims{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, token)
		return Claims{}, false
	}
	return e.claims, true
}

func (c *tokenCache) put(token string, claims Claims) {
	expires := time.Now().Add(defaultCacheTTL)
	if !claims.Expiry.IsZero() && claims.Expiry.Before(expires) {
		expires = claims.Expiry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = cacheEntry{claims: claims, expires: expires}
}
