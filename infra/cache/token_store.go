// Package cache keeps bearer tokens in Redis so every replica shares one session per gateway.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/shaparak/provider"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces the token keys
const KeyPrefix = "shaparak:token:"

// redisClient is the part of go-redis the store uses
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type storedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisTokenStore implements provider.TokenStore on Redis
type RedisTokenStore struct {
	client redisClient
	now    func() time.Time
}

// NewRedisTokenStore wraps an existing client
func NewRedisTokenStore(client redisClient) *RedisTokenStore {
	return &RedisTokenStore{client: client, now: time.Now}
}

// NewTokenStore connects to Redis and falls back to memory when addr is empty
// or the server does not answer. The error reports why Redis was not used.
func NewTokenStore(addr, pass string, db int) (provider.TokenStore, error) {
	if addr == "" {
		return provider.NewMemoryTokenStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return provider.NewMemoryTokenStore(), err
	}
	return NewRedisTokenStore(client), nil
}

func (s *RedisTokenStore) Get(ctx context.Context, key string) (string, time.Time, bool, error) {
	raw, err := s.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var tok storedToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		// unreadable entries are treated as missing and get overwritten
		return "", time.Time{}, false, nil
	}
	return tok.Token, tok.ExpiresAt, true, nil
}

func (s *RedisTokenStore) Set(ctx context.Context, key, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(storedToken{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, KeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
