package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mstgnz/shaparak/provider"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps values in a map and honors expirations against now
type fakeRedis struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisTokenStore_RoundTrip(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisTokenStore(fake)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, _, ok, err := store.Get(context.Background(), "ozone:jwt:sandbox")
	require.NoError(t, err)
	assert.False(t, ok)

	exp := now.Add(19 * time.Minute)
	require.NoError(t, store.Set(context.Background(), "ozone:jwt:sandbox", "jwt-1", exp))
	assert.Equal(t, 19*time.Minute, fake.ttls[KeyPrefix+"ozone:jwt:sandbox"])

	tok, gotExp, ok, err := store.Get(context.Background(), "ozone:jwt:sandbox")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "jwt-1", tok)
	assert.True(t, exp.Equal(gotExp))
}

func TestRedisTokenStore_SkipsExpired(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisTokenStore(fake)

	require.NoError(t, store.Set(context.Background(), "k", "old", time.Now().Add(-time.Second)))
	assert.Empty(t, fake.values)
}

func TestRedisTokenStore_UnreadableIsMissing(t *testing.T) {
	fake := newFakeRedis()
	fake.values[KeyPrefix+"k"] = []byte("not json")

	_, _, ok, err := NewRedisTokenStore(fake).Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTokenStore_Errors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	store := NewRedisTokenStore(fake)

	_, _, _, err := store.Get(context.Background(), "k")
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, store.Set(context.Background(), "k", "v", time.Now().Add(time.Hour)), "connection refused")
}

func TestRedisTokenStore_WithTokenCache(t *testing.T) {
	cache := provider.NewTokenCache(NewRedisTokenStore(newFakeRedis()), 30*time.Second)

	calls := 0
	fetch := func(context.Context) (string, time.Time, error) {
		calls++
		return "jwt", time.Now().Add(10 * time.Minute), nil
	}
	for range 3 {
		tok, err := cache.Get(context.Background(), "ozone:jwt:production", fetch)
		require.NoError(t, err)
		assert.Equal(t, "jwt", tok)
	}
	assert.Equal(t, 1, calls)
}

func TestNewTokenStore_FallsBackToMemory(t *testing.T) {
	store, err := NewTokenStore("", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &provider.MemoryTokenStore{}, store)

	store, err = NewTokenStore("127.0.0.1:1", "", 0)
	assert.Error(t, err)
	assert.IsType(t, &provider.MemoryTokenStore{}, store)
}
