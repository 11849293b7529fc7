// correlation.go — идентификатор запроса и адрес клиента.
// Идентификатор берётся из входящего X-Correlation-ID или генерируется,
// возвращается в заголовке ответа и попадает в логи, ошибки и аудит.
package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/domain/model"
)

const contextKeyCorrelation contextKey = "correlation_id"

// maxCorrelationIDLength — предел длины входящего идентификатора,
// не больше колонки audit_log.correlation_id.
const maxCorrelationIDLength = model.MaxCorrelationIDLength

// CorrelationID возвращает middleware, назначающий идентификатор запроса.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(apierrors.CorrelationHeader)
			if !validCorrelationID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(apierrors.CorrelationHeader, id)
			ctx := context.WithValue(r.Context(), contextKeyCorrelation, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validCorrelationID допускает только [A-Za-z0-9._-]: значение пишется в логи.
func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// CorrelationIDFromContext извлекает идентификатор запроса.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyCorrelation).(string)
	return id
}

// ClientIP возвращает IP-адрес клиента из RemoteAddr.
// Заголовки прокси не учитываются: их значение задаёт клиент.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ActorFromRequest собирает инициатора действия для аудита:
// sub из JWT, IP клиента и идентификатор запроса.
func ActorFromRequest(r *http.Request) model.Actor {
	return model.Actor{
		ID:            SubjectFromContext(r.Context()),
		IP:            ClientIP(r),
		CorrelationID: CorrelationIDFromContext(r.Context()),
	}
}
