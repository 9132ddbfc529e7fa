package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenStore persists short-lived bearer tokens
type TokenStore interface {
	// Get returns the token stored under key and its expiry, or ok=false
	Get(ctx context.Context, key string) (token string, expiresAt time.Time, ok bool, err error)
	// Set stores token under key until expiresAt
	Set(ctx context.Context, key, token string, expiresAt time.Time) error
}

// TokenFetcher obtains a fresh token and its expiry from the auth endpoint
type TokenFetcher func(ctx context.Context) (token string, expiresAt time.Time, err error)

// TokenCache is a compute-if-absent-or-expired cache shared by all adapters
// of a registry. Concurrent misses on one key trigger a single fetch.
type TokenCache struct {
	store TokenStore
	group singleflight.Group
	skew  time.Duration
	now   func() time.Time
}

// NewTokenCache creates a cache over store. A token is treated as expired
// skew before its real expiry.
func NewTokenCache(store TokenStore, skew time.Duration) *TokenCache {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	return &TokenCache{store: store, skew: skew, now: time.Now}
}

// Get returns a valid token for key, fetching one when absent or expired
func (c *TokenCache) Get(ctx context.Context, key string, fetch TokenFetcher) (string, error) {
	if token, ok, err := c.lookup(ctx, key); err != nil {
		tokenCacheLookups.WithLabelValues("error").Inc()
		return "", err
	} else if ok {
		tokenCacheLookups.WithLabelValues("hit").Inc()
		return token, nil
	}
	tokenCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// another caller may have refreshed while we waited on the group
		if token, ok, err := c.lookup(ctx, key); err == nil && ok {
			return token, nil
		}
		token, expiresAt, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", fmt.Errorf("token cache: empty token fetched for %s", key)
		}
		if err := c.store.Set(ctx, key, token, expiresAt); err != nil {
			return "", fmt.Errorf("token cache: failed to store %s: %w", key, err)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) lookup(ctx context.Context, key string) (string, bool, error) {
	token, expiresAt, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("token cache: failed to read %s: %w", key, err)
	}
	if !ok || token == "" || !c.now().Add(c.skew).Before(expiresAt) {
		return "", false, nil
	}
	return token, true, nil
}

type memoryToken struct {
	token     string
	expiresAt time.Time
}

// MemoryTokenStore keeps tokens in process memory
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]memoryToken
}

// NewMemoryTokenStore creates an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken)}
}

func (s *MemoryTokenStore) Get(_ context.Context, key string) (string, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[key]
	return t.token, t.expiresAt, ok, nil
}

func (s *MemoryTokenStore) Set(_ context.Context, key, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = memoryToken{token: token, expiresAt: expiresAt}
	return nil
}
