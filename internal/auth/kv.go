package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

var ErrKeyNotFound = errors.New("key not found")

// KV is the session and token store.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// RedisKV implements KV on Redis.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV connects and pings Redis.
func NewRedisKV(addr, password string, db int) (*RedisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisKV{client: rdb}, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

type memEntry struct {
	value   string
	expires time.Time
}

// MemoryKV is a process-local KV for development and tests.
type MemoryKV struct {
	entries *xsync.MapOf[string, memEntry]
	now     func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: xsync.NewMapOf[string, memEntry](), now: time.Now}
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.entries.Store(key, memEntry{value: value, expires: expires})
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	e, ok := m.entries.Load(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.entries.Delete(key)
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}
