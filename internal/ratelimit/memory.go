package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxKeys — ёмкость in-process хранилища окон.
const DefaultMaxKeys = 10000

type memoryBucket struct {
	count     int
	windowEnd time.Time
}

// Memory — in-process лимитер. Окна хранятся в LRU с TTL,
// вытесняющем неактивные ключи. Состояние не разделяется между
// экземплярами сервиса.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	cache *expirable.LRU[string, *memoryBucket]
}

// NewMemory создаёт in-process лимитер. ttl — время хранения окна
// (не меньше максимального используемого окна).
func NewMemory(maxKeys int, ttl time.Duration) *Memory {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Memory{
		now:   time.Now,
		cache: expirable.NewLRU[string, *memoryBucket](maxKeys, nil, ttl),
	}
}

// Allow проверяет и учитывает операцию по ключу.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.cache.Get(key)
	if !ok || !now.Before(bucket.windowEnd) {
		bucket = &memoryBucket{windowEnd: now.Add(window)}
		m.cache.Add(key, bucket)
	}

	if bucket.count < limit {
		bucket.count++
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - bucket.count,
			ResetAt:   bucket.windowEnd,
		}, nil
	}

	return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: bucket.windowEnd}, nil
}
