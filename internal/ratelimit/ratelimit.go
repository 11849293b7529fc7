// Пакет ratelimit — ограничение частоты операций по ключу (фиксированное окно).
// Бэкенды: in-process (golang-lru expirable) для одного экземпляра
// и Redis для нескольких экземпляров сервиса.
package ratelimit

import (
	"context"
	"time"
)

// Decision — результат проверки лимита.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter возвращает время до сброса окна относительно now (не меньше секунды).
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// Limiter — проверка и учёт операции по ключу.
// Каждый вызов Allow расходует одну единицу окна, если лимит не исчерпан.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
