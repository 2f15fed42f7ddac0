package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultCacheTTL bounds how long a cached daily rate lives. Stored rates
// never change retroactively outside of a re-sync, so a day is safe.
const defaultCacheTTL = 24 * time.Hour

// RateCache caches resolved rates keyed by currency and date.
type RateCache interface {
	Get(ctx context.Context, currency, date string) (*Resolution, bool)
	Set(ctx context.Context, currency, date string, res *Resolution) error
	Close() error
}

func cacheKey(currency, date string) string {
	return "fx:rate:" + currency + ":" + date
}

// MemoryCache is a process-local RateCache. It is what tests and single-node
// deployments use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Resolution
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*Resolution),
	}
}

func (m *MemoryCache) Get(_ context.Context, currency, date string) (*Resolution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.entries[cacheKey(currency, date)]
	return res, ok
}

func (m *MemoryCache) Set(_ context.Context, currency, date string, res *Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cacheKey(currency, date)] = res
	return nil
}

func (m *MemoryCache) Close() error {
	return nil
}

// RedisCache is a shared RateCache for multi-instance deployments.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redis at addr and verifies the connection.
func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    defaultCacheTTL,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, currency, date string) (*Resolution, bool) {
	data, err := r.client.Get(ctx, cacheKey(currency, date)).Bytes()
	if err != nil {
		return nil, false
	}

	var res Resolution
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (r *RedisCache) Set(ctx context.Context, currency, date string, res *Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal rate: %w", err)
	}
	return r.client.Set(ctx, cacheKey(currency, date), data, r.ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
