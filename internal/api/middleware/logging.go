// logging.go — журнал HTTP-запросов govote.
// Строка журнала: метод, путь, статус, длительность, размер ответа,
// correlation_id и, кроме анонимных путей, IP клиента.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// anonymousPaths — запросы с бюллетенем. IP клиента и время с точностью
// до миллисекунд позволили бы сопоставить голос с сеансом участника
// в Credential Service, поэтому IP для них не пишется.
var anonymousPaths = map[string]bool{
	"/vote": true,
}

// statusRecorder запоминает статус и размер ответа для журнала и метрик.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func recordStatus(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// levelForStatus: 5xx — ERROR, 4xx — WARN, остальное — INFO.
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger логирует каждый запрос после ответа.
// Заголовки не пишутся: в Authorization у /vote открытый credential.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recordStatus(w)
			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", rec.bytes),
				slog.String("correlation_id", CorrelationIDFromContext(r.Context())),
			}
			if !anonymousPaths[r.URL.Path] {
				attrs = append(attrs, slog.String("remote_addr", ClientIP(r)))
			}
			log.LogAttrs(r.Context(), levelForStatus(rec.status), "HTTP запрос", attrs...)
		})
	}
}
