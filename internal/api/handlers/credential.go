// credential.go — обработчики Credential Service: текущие выборы,
// выдача credential участнику, статус и итоги.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/bigkaa/govote/internal/api/dto"
	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/api/middleware"
	"github.com/bigkaa/govote/internal/service"
)

// CredentialHandler — обработчик API Credential Service.
type CredentialHandler struct {
	health   *HealthHandler
	issuance *service.IssuanceService
	logger   *slog.Logger
}

// NewCredentialHandler создаёт обработчик API Credential Service.
func NewCredentialHandler(health *HealthHandler, issuance *service.IssuanceService, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		health:   health,
		issuance: issuance,
		logger:   logger.With(slog.String("component", "credential_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *CredentialHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *CredentialHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *CredentialHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetElection — GET /election. Текущие публичные выборы.
func (h *CredentialHandler) GetElection(w http.ResponseWriter, r *http.Request) {
	e, err := h.issuance.CurrentElection(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromPublicElection(e))
}

// RequestToken — POST /request-token. Открытый credential возвращается
// один раз, ответ не кэшируется.
func (h *CredentialHandler) RequestToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	issued, err := h.issuance.RequestToken(r.Context(), middleware.ActorFromRequest(r), middleware.RoleFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromIssued(*issued))
}

// GetMyStatus — GET /my-status. Состояние credential участника: none, live, expired.
func (h *CredentialHandler) GetMyStatus(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	st, err := h.issuance.MyStatus(r.Context(), claims.Subject, claims.Role)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	election := dto.FromPublicElection(st.Election)
	writeJSON(w, http.StatusOK, dto.MemberStatus{
		Election:   &election,
		Eligible:   st.Eligible,
		TokenState: st.State,
		IssuedAt:   st.IssuedAt,
		ExpiresAt:  st.ExpiresAt,
	})
}

// GetResults — GET /results?election_id=. Итоги закрытых выборов из Tally Service.
func (h *CredentialHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := runtime.BindQueryParameter("form", true, true, "election_id", r.URL.Query(), &id); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр election_id: "+err.Error())
		return
	}

	res, err := h.issuance.Results(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromResults(res))
}
