package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/govote/internal/api/dto"
	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/service"
)

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"валидация", fmt.Errorf("%w: пустой заголовок", service.ErrValidation), http.StatusBadRequest, apierrors.CodeValidationError, ""},
		{"не найдено", fmt.Errorf("выборы e-1: %w", service.ErrNotFound), http.StatusNotFound, apierrors.CodeNotFound, ""},
		{"нет текущих выборов", service.ErrNoCurrentElection, http.StatusNotFound, apierrors.CodeNotFound, ""},
		{"запрещено", service.ErrForbidden, http.StatusForbidden, apierrors.CodeForbidden, ""},
		{"не допущен", service.ErrNotEligible, http.StatusForbidden, apierrors.CodeNotEligible, ""},
		{"credential истёк", service.ErrCredentialExpired, http.StatusForbidden, apierrors.CodeCredentialExpired, ""},
		{"неизвестный credential", service.ErrInvalidCredential, http.StatusUnauthorized, apierrors.CodeInvalidCredential, ""},
		{"занят другим запросом", service.ErrRetryLater, http.StatusServiceUnavailable, apierrors.CodeRetryLater, "1"},
		{"лимит с окном", &service.RateLimitError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, apierrors.CodeRateLimited, "90"},
		{"лимит без окна", service.ErrRateLimited, http.StatusTooManyRequests, apierrors.CodeRateLimited, "60"},
		{"tally недоступен", fmt.Errorf("%w: timeout", service.ErrTallyUnavailable), http.StatusBadGateway, apierrors.CodeTallyUnavailable, ""},
		{"итоги недоступны", service.ErrResultsUnavailable, http.StatusServiceUnavailable, apierrors.CodeResultsUnavailable, ""},
		{"переход", &lifecycle.TransitionError{Code: apierrors.CodeInvalidTransition, Message: "draft → closed"}, http.StatusConflict, apierrors.CodeInvalidTransition, ""},
		{"голосование закрыто", service.ErrVotingNotOpen, http.StatusConflict, apierrors.CodeVotingNotOpen, ""},
		{"повторный голос", service.ErrAlreadyVoted, http.StatusConflict, apierrors.CodeAlreadyVoted, ""},
		{"действующий credential", service.ErrLiveTokenExists, http.StatusConflict, apierrors.CodeLiveTokenExists, ""},
		{"подтверждение", service.ErrConfirmationRequired, http.StatusConflict, apierrors.CodeConfirmationRequired, ""},
		{"выборы публичны", service.ErrElectionLive, http.StatusConflict, apierrors.CodeElectionLive, ""},
		{"конфликт", service.ErrConflict, http.StatusConflict, apierrors.CodeConflict, ""},
		{"неизвестная", errors.New("connection reset"), http.StatusInternalServerError, apierrors.CodeInternalError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/elections", nil)

			writeServiceError(rec, req, logger, tt.err)

			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
			}
			var body dto.ErrorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Error.Code != tt.code {
				t.Errorf("code = %q, ожидался %q", body.Error.Code, tt.code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, ожидался %q", got, tt.retryAfter)
			}
		})
	}
}

func TestWriteServiceError_InternalHidesDetails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/elections", nil)

	writeServiceError(rec, req, logger, errors.New("pq: password authentication failed"))

	var body dto.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Message != "Внутренняя ошибка сервера" {
		t.Errorf("message = %q, детали не должны попадать в ответ", body.Error.Message)
	}
}
