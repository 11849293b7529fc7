// s2s.go — аутентификация межсервисных запросов общим секретом.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/govote/internal/api/errors"
)

// ServiceSecretHeader — заголовок с общим секретом S2S.
const ServiceSecretHeader = "X-Service-Secret"

// ServiceSecret возвращает middleware, сверяющий X-Service-Secret
// с ожидаемым значением за постоянное время.
func ServiceSecret(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(secret)
	log := logger.With(slog.String("component", "s2s_auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(ServiceSecretHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				log.Warn("S2S-запрос с неверным секретом",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", ClientIP(r)),
				)
				apierrors.Unauthorized(w, "Неверный или отсутствующий "+ServiceSecretHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
