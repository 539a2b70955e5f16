package cloud

import (
	"context"
	"sync"
	"time"
)

// tokenMargin is subtracted from the advertised lifetime so a token is
// never used right at its expiry.
const tokenMargin = 300 * time.Second

// TokenFetcher exchanges app credentials for a company token.
type TokenFetcher func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds one company token per process and refreshes it lazily.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent callers
// that find the token expired wait for a single refresh.
type TokenCache struct {
	mu     sync.Mutex
	fetch  TokenFetcher
	now    func() time.Time
	token  string
	expiry time.Time
}

// NewTokenCache creates an empty cache.
func NewTokenCache(fetch TokenFetcher, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{fetch: fetch, now: now}
}

// Token returns the cached token, refreshing it when absent or expired.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expiry) {
		return c.token, nil
	}

	token, expiresIn, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiry = now.Add(expiresIn - tokenMargin)
	return c.token, nil
}

// Invalidate forces the next Token call to refresh.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}
