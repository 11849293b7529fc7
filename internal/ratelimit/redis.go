package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix — пространство ключей лимитера в Redis.
const keyPrefix = "govote:ratelimit:"

// allowScript атомарно увеличивает счётчик окна и выставляет TTL
// при первом обращении.
var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// Redis — лимитер с общим состоянием в Redis.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis создаёт лимитер поверх Redis.
func NewRedis(addr, password string, db int) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("не задан адрес Redis")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, now: time.Now}, nil
}

// Ping проверяет доступность Redis.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединения с Redis.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Allow проверяет и учитывает операцию по ключу.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}

	result, err := allowScript.Run(ctx, r.client, []string{keyPrefix + key}, windowMillis).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ошибка rate limit в Redis: %w", err)
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("неожиданный ответ Redis на проверку лимита")
	}
	current, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("некорректный счётчик лимита в ответе Redis")
	}
	ttlMillis, _ := values[1].(int64)

	resetAt := r.now()
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
