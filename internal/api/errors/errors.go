// Пакет errors — конструкторы стандартных ошибок govote.
// Единый формат: {"error": {"code": "...", "message": "...", "correlation_id": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/govote/internal/api/dto"
)

// CorrelationHeader — заголовок идентификатора запроса.
// Выставляется middleware CorrelationID до вызова обработчика,
// WriteError берёт значение из заголовков ответа.
const CorrelationHeader = "X-Correlation-ID"

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeInvalidCredential      = "INVALID_CREDENTIAL"
	CodeForbidden              = "FORBIDDEN"
	CodeNotEligible            = "NOT_ELIGIBLE"
	CodeCredentialExpired      = "CREDENTIAL_EXPIRED"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeElectionHidden         = "ELECTION_HIDDEN"
	CodeVotingNotOpen          = "VOTING_NOT_OPEN"
	CodeResultsNotAvailable    = "RESULTS_NOT_AVAILABLE"
	CodeConfirmationRequired   = "CONFIRMATION_REQUIRED"
	CodeElectionLive           = "ELECTION_LIVE"
	CodeConflict               = "CONFLICT"
	CodeAlreadyVoted           = "ALREADY_VOTED"
	CodeTokenAlreadyRegistered = "TOKEN_ALREADY_REGISTERED"
	CodeLiveTokenExists        = "LIVE_TOKEN_EXISTS"
	CodeRateLimited            = "RATE_LIMITED"
	CodeRetryLater             = "RETRY_LATER"
	CodeTallyUnavailable       = "TALLY_UNAVAILABLE"
	CodeResultsUnavailable     = "RESULTS_UNAVAILABLE"
	CodeIDPUnavailable         = "IDP_UNAVAILABLE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, dto.ErrorDetail{Code: code, Message: message})
}

// WriteRetryError записывает ошибку с заголовком Retry-After
// и полем retry_after_seconds. Значение округляется вверх до секунды.
func WriteRetryError(w http.ResponseWriter, statusCode int, code, message string, retryAfter time.Duration) {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	write(w, statusCode, dto.ErrorDetail{Code: code, Message: message, RetryAfterSeconds: seconds})
}

func write(w http.ResponseWriter, statusCode int, detail dto.ErrorDetail) {
	detail.CorrelationID = w.Header().Get(CorrelationHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(dto.ErrorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт с существующим состоянием.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// Precondition — 409 с кодом нарушенного предусловия.
func Precondition(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusConflict, code, message)
}

// RateLimited — 429 превышен лимит операций.
func RateLimited(w http.ResponseWriter, message string, retryAfter time.Duration) {
	WriteRetryError(w, http.StatusTooManyRequests, CodeRateLimited, message, retryAfter)
}

// RetryLater — 503 ресурс занят параллельным запросом.
func RetryLater(w http.ResponseWriter, message string) {
	WriteRetryError(w, http.StatusServiceUnavailable, CodeRetryLater, message, time.Second)
}

// TallyUnavailable — 502 Tally Service недоступен.
func TallyUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeTallyUnavailable, message)
}

// IDPUnavailable — 502 Identity Provider недоступен.
func IDPUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeIDPUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
