package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/govote/internal/api/dto"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorDetail {
	t.Helper()
	var body dto.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	return body.Error
}

func TestWriteError_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(CorrelationHeader, "corr-42")

	NotFound(rec, "выборы не найдены")

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидался 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	detail := decode(t, rec)
	if detail.Code != CodeNotFound || detail.Message != "выборы не найдены" {
		t.Errorf("тело = %+v", detail)
	}
	if detail.CorrelationID != "corr-42" {
		t.Errorf("correlation_id = %q, ожидался corr-42", detail.CorrelationID)
	}
	if detail.RetryAfterSeconds != 0 {
		t.Errorf("retry_after_seconds = %d для ошибки без повтора", detail.RetryAfterSeconds)
	}
}

func TestWriteRetryError_Rounding(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		want       int
		wantHeader string
	}{
		{"ноль", 0, 1, "1"},
		{"меньше секунды", 200 * time.Millisecond, 1, "1"},
		{"ровно секунды", 30 * time.Second, 30, "30"},
		{"округление вверх", 30*time.Second + time.Millisecond, 31, "31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RateLimited(rec, "превышен лимит", tt.retryAfter)

			if rec.Code != http.StatusTooManyRequests {
				t.Errorf("статус = %d, ожидался 429", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantHeader {
				t.Errorf("Retry-After = %q, ожидался %q", got, tt.wantHeader)
			}
			detail := decode(t, rec)
			if detail.RetryAfterSeconds != tt.want {
				t.Errorf("retry_after_seconds = %d, ожидался %d", detail.RetryAfterSeconds, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"validation", func(w http.ResponseWriter) { ValidationError(w, "x") }, http.StatusBadRequest, CodeValidationError},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "x") }, http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "x") }, http.StatusForbidden, CodeForbidden},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "x") }, http.StatusConflict, CodeConflict},
		{"precondition", func(w http.ResponseWriter) { Precondition(w, CodeVotingNotOpen, "x") }, http.StatusConflict, CodeVotingNotOpen},
		{"retry later", func(w http.ResponseWriter) { RetryLater(w, "x") }, http.StatusServiceUnavailable, CodeRetryLater},
		{"tally", func(w http.ResponseWriter) { TallyUnavailable(w, "x") }, http.StatusBadGateway, CodeTallyUnavailable},
		{"idp", func(w http.ResponseWriter) { IDPUnavailable(w, "x") }, http.StatusBadGateway, CodeIDPUnavailable},
		{"internal", func(w http.ResponseWriter) { InternalError(w, "x") }, http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
			}
			if detail := decode(t, rec); detail.Code != tt.code {
				t.Errorf("code = %q, ожидался %q", detail.Code, tt.code)
			}
		})
	}
}
