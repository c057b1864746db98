package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleamarkt/fleamarkt-api/config"
)

// TokenStore is the refresh-token denylist consulted on refresh and fed
// by logout. Entries expire together with the token they shadow.
type TokenStore interface {
	Deny(token string, ttl time.Duration) error
	IsDenied(token string) (bool, error)
}

func denyKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "denylist:" + hex.EncodeToString(sum[:])
}

// RedisTokenStore keeps the denylist in Redis so it survives restarts
// and is shared across instances.
type RedisTokenStore struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisTokenStore(cfg config.RedisConfig) (*RedisTokenStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Println("Successfully connected to Redis")

	return &RedisTokenStore{client: rdb, ctx: ctx}, nil
}

func (r *RedisTokenStore) Deny(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(r.ctx, denyKey(token), "1", ttl).Err()
}

func (r *RedisTokenStore) IsDenied(token string) (bool, error) {
	result := r.client.Exists(r.ctx, denyKey(token))
	return result.Val() > 0, result.Err()
}

func (r *RedisTokenStore) Close() error {
	return r.client.Close()
}

// MemoryTokenStore is the single-process fallback used when Redis is
// not configured.
type MemoryTokenStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{expires: map[string]time.Time{}}
}

func (m *MemoryTokenStore) Deny(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[denyKey(token)] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryTokenStore) IsDenied(token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.expires[denyKey(token)]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(m.expires, denyKey(token))
		return false, nil
	}
	return true, nil
}
