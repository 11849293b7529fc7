// metrics.go — Prometheus HTTP метрики govote.
// Регистрирует метрики: govote_http_requests_total, govote_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govote_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govote_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			rec := recordStatus(w)
			next.ServeHTTP(rec, r)

			status := strconv.Itoa(rec.status)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

const electionsPrefix = "/api/v1/elections/"

// electionActions — допустимые суффиксы после /api/v1/elections/{id}.
var electionActions = map[string]bool{
	"metadata": true, "publish": true, "open": true, "pause": true,
	"resume": true, "close": true, "archive": true, "hide": true,
	"unhide": true, "hard-delete": true, "reset": true, "status": true,
	"results": true, "token-distribution": true,
}

// normalizePath заменяет идентификатор выборов на {id}, а неизвестные
// пути сводит к "other" для ограничения кардинальности метрик.
// /api/v1/elections/a1b2c3d4-.../open → /api/v1/elections/{id}/open
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/election", "/request-token", "/my-status", "/results", "/vote",
		"/s2s/register-token", "/s2s/results", "/s2s/election",
		"/api/v1/elections", "/api/v1/audit", "/api/v1/audit/verify":
		return path
	}

	rest, ok := strings.CutPrefix(path, electionsPrefix)
	if !ok || rest == "" {
		return "other"
	}
	_, action, hasAction := strings.Cut(rest, "/")
	if !hasAction {
		return electionsPrefix + "{id}"
	}
	if electionActions[action] {
		return electionsPrefix + "{id}/" + action
	}
	return "other"
}
