package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/api/middleware"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/service"
)

// defaultRetryAfter — Retry-After для лимита без известного окна.
const defaultRetryAfter = time.Minute

// precondition — 409 с собственным кодом для ошибок предусловий и конфликтов.
var precondition = []struct {
	err  error
	code string
}{
	{service.ErrVotingNotOpen, apierrors.CodeVotingNotOpen},
	{service.ErrResultsNotAvailable, apierrors.CodeResultsNotAvailable},
	{service.ErrConfirmationRequired, apierrors.CodeConfirmationRequired},
	{service.ErrElectionLive, apierrors.CodeElectionLive},
	{service.ErrAlreadyVoted, apierrors.CodeAlreadyVoted},
	{service.ErrTokenAlreadyRegistered, apierrors.CodeTokenAlreadyRegistered},
	{service.ErrLiveTokenExists, apierrors.CodeLiveTokenExists},
	{service.ErrConflict, apierrors.CodeConflict},
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются с correlation_id и отдаются как 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var transitionErr *lifecycle.TransitionError
	if errors.As(err, &transitionErr) {
		apierrors.Precondition(w, transitionErr.Code, transitionErr.Message)
		return
	}
	var rateErr *service.RateLimitError
	if errors.As(err, &rateErr) {
		apierrors.RateLimited(w, err.Error(), rateErr.RetryAfter)
		return
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
		return
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrNoCurrentElection):
		apierrors.NotFound(w, err.Error())
		return
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
		return
	case errors.Is(err, service.ErrNotEligible):
		apierrors.WriteError(w, http.StatusForbidden, apierrors.CodeNotEligible, err.Error())
		return
	case errors.Is(err, service.ErrCredentialExpired):
		apierrors.WriteError(w, http.StatusForbidden, apierrors.CodeCredentialExpired, err.Error())
		return
	case errors.Is(err, service.ErrInvalidCredential):
		apierrors.WriteError(w, http.StatusUnauthorized, apierrors.CodeInvalidCredential, err.Error())
		return
	case errors.Is(err, service.ErrRetryLater):
		apierrors.RetryLater(w, err.Error())
		return
	case errors.Is(err, service.ErrRateLimited):
		apierrors.RateLimited(w, err.Error(), defaultRetryAfter)
		return
	case errors.Is(err, service.ErrTallyUnavailable):
		logger.Error("Tally Service недоступен",
			slog.String("correlation_id", middleware.CorrelationIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		apierrors.TallyUnavailable(w, service.ErrTallyUnavailable.Error())
		return
	case errors.Is(err, service.ErrResultsUnavailable):
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeResultsUnavailable, service.ErrResultsUnavailable.Error())
		return
	}

	for _, p := range precondition {
		if errors.Is(err, p.err) {
			apierrors.Precondition(w, p.code, err.Error())
			return
		}
	}

	logger.Error("Внутренняя ошибка",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("correlation_id", middleware.CorrelationIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, "Внутренняя ошибка сервера")
}
