// tally.go — обработчики Tally Service: администрирование выборов,
// журнал аудита, приём бюллетеней и S2S endpoints для Credential Service.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/bigkaa/govote/internal/api/dto"
	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/api/middleware"
	"github.com/bigkaa/govote/internal/api/schema"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
	"github.com/bigkaa/govote/internal/service"
)

// TallyHandler — обработчик API Tally Service.
type TallyHandler struct {
	health    *HealthHandler
	elections *service.ElectionService
	ballots   *service.BallotService
	tokens    *service.TokenService
	results   *service.ResultsService
	audit     *service.AuditService
	body      bodyDecoder
	logger    *slog.Logger
}

// NewTallyHandler создаёт обработчик API Tally Service.
func NewTallyHandler(
	health *HealthHandler,
	elections *service.ElectionService,
	ballots *service.BallotService,
	tokens *service.TokenService,
	results *service.ResultsService,
	audit *service.AuditService,
	validator *schema.Validator,
	logger *slog.Logger,
) *TallyHandler {
	l := logger.With(slog.String("component", "tally_handler"))
	return &TallyHandler{
		health:    health,
		elections: elections,
		ballots:   ballots,
		tokens:    tokens,
		results:   results,
		audit:     audit,
		body:      bodyDecoder{validator: validator, logger: l},
		logger:    l,
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *TallyHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *TallyHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *TallyHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Выборы ---

// listElectionsParams — query-параметры GET /api/v1/elections.
type listElectionsParams struct {
	Status         *[]string
	Hidden         *bool
	Eligibility    *string
	CreatedBy      *string
	Search         *string
	IncludeDeleted *bool
	Limit          *int
	Offset         *int
}

// ListElections — GET /api/v1/elections. Доступ: readonly.
func (h *TallyHandler) ListElections(w http.ResponseWriter, r *http.Request) {
	var p listElectionsParams
	q := r.URL.Query()
	for _, b := range []struct {
		name string
		dest any
	}{
		{"status", &p.Status},
		{"hidden", &p.Hidden},
		{"eligibility", &p.Eligibility},
		{"created_by", &p.CreatedBy},
		{"search", &p.Search},
		{"include_deleted", &p.IncludeDeleted},
		{"limit", &p.Limit},
		{"offset", &p.Offset},
	} {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			apierrors.ValidationError(w, "Некорректный параметр "+b.name+": "+err.Error())
			return
		}
	}

	limit, offset := paginationDefaults(p.Limit, p.Offset)
	f := repository.ElectionFilter{
		Hidden:    p.Hidden,
		CreatedBy: p.CreatedBy,
		Limit:     limit,
		Offset:    offset,
	}
	if p.Status != nil {
		for _, s := range *p.Status {
			f.Statuses = append(f.Statuses, lifecycle.Status(s))
		}
	}
	if p.Eligibility != nil {
		el := model.Eligibility(*p.Eligibility)
		f.Eligibility = &el
	}
	if p.Search != nil {
		f.Search = *p.Search
	}
	if p.IncludeDeleted != nil {
		f.IncludeDeleted = *p.IncludeDeleted
	}

	items, total, err := h.elections.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.ElectionList{Items: make([]dto.Election, 0, len(items)), Total: total, Limit: limit, Offset: offset}
	for _, e := range items {
		resp.Items = append(resp.Items, dto.FromElection(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateElection — POST /api/v1/elections. Доступ: admin.
func (h *TallyHandler) CreateElection(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateElectionRequest
	if !h.body.decode(w, r, schema.CreateElectionRequest, &req) {
		return
	}

	e, err := h.elections.Create(r.Context(), middleware.ActorFromRequest(r), service.ElectionInput{
		Title:          req.Title,
		Description:    req.Description,
		Question:       req.Question,
		Answers:        dto.Answers(req.Answers),
		VotingMode:     model.VotingMode(req.VotingMode),
		MaxSelection:   req.MaxSelection,
		Eligibility:    model.Eligibility(req.Eligibility),
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromElection(e))
}

// GetElection — GET /api/v1/elections/{id}. Доступ: readonly.
// Мягко удалённые выборы возвращаются: запись остаётся для аудита.
func (h *TallyHandler) GetElection(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	e, err := h.elections.Get(r.Context(), id, true)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromElection(e))
}

// UpdateElection — PATCH /api/v1/elections/{id}. Только draft. Доступ: admin.
func (h *TallyHandler) UpdateElection(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	var req dto.UpdateElectionRequest
	if !h.body.decode(w, r, schema.UpdateElectionRequest, &req) {
		return
	}

	patch := service.ElectionPatch{
		Title:          req.Title,
		Description:    req.Description,
		Question:       req.Question,
		Answers:        dto.Answers(req.Answers),
		MaxSelection:   req.MaxSelection,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		ClearSchedule:  req.ClearSchedule,
	}
	if req.VotingMode != nil {
		m := model.VotingMode(*req.VotingMode)
		patch.VotingMode = &m
	}
	if req.Eligibility != nil {
		el := model.Eligibility(*req.Eligibility)
		patch.Eligibility = &el
	}

	e, err := h.elections.Update(r.Context(), middleware.ActorFromRequest(r), id, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromElection(e))
}

// UpdateElectionMetadata — PATCH /api/v1/elections/{id}/metadata. Доступ: admin.
func (h *TallyHandler) UpdateElectionMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	var req dto.UpdateMetadataRequest
	if !h.body.decode(w, r, schema.UpdateMetadataRequest, &req) {
		return
	}

	e, err := h.elections.UpdateMetadata(r.Context(), middleware.ActorFromRequest(r), id, req.Title, req.Description)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromElection(e))
}

// Transition возвращает обработчик действия жизненного цикла без тела:
// publish, pause, resume, close, archive и delete (мягкое удаление). Доступ: admin.
func (h *TallyHandler) Transition(action lifecycle.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := electionID(w, r)
		if !ok {
			return
		}
		e, err := h.elections.Transition(r.Context(), middleware.ActorFromRequest(r), id, action)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.FromElection(e))
	}
}

// OpenElection — POST /api/v1/elections/{id}/open. Доступ: admin.
// Открытые credentials возвращаются один раз и не кэшируются.
func (h *TallyHandler) OpenElection(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	var req dto.OpenElectionRequest
	if !h.body.decode(w, r, schema.OpenElectionRequest, &req) {
		return
	}

	res, err := h.elections.Open(r.Context(), middleware.ActorFromRequest(r), id, req.MemberCount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.OpenElectionResponse{
		Election:    dto.FromElection(res.Election),
		Credentials: make([]dto.IssuedCredential, 0, len(res.Credentials)),
	}
	for _, c := range res.Credentials {
		resp.Credentials = append(resp.Credentials, dto.FromIssued(c))
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// SetHidden возвращает обработчик hide (true) или unhide (false). Доступ: admin.
func (h *TallyHandler) SetHidden(hidden bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := electionID(w, r)
		if !ok {
			return
		}
		e, err := h.elections.SetHidden(r.Context(), middleware.ActorFromRequest(r), id, hidden)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.FromElection(e))
	}
}

// HardDeleteElection — POST /api/v1/elections/{id}/hard-delete. Доступ: superuser.
func (h *TallyHandler) HardDeleteElection(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	var req dto.ConfirmationRequest
	if !h.body.decode(w, r, schema.ConfirmationRequest, &req) {
		return
	}

	if err := h.elections.HardDelete(r.Context(), middleware.ActorFromRequest(r), id, req.Confirmation); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetElection — POST /api/v1/elections/{id}/reset. Доступ: superuser.
func (h *TallyHandler) ResetElection(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	var req dto.ConfirmationRequest
	if !h.body.decode(w, r, schema.ConfirmationRequest, &req) {
		return
	}

	res, err := h.elections.Reset(r.Context(), middleware.ActorFromRequest(r), id, req.Confirmation)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ResetResponse{
		Election:       dto.FromElection(res.Election),
		BallotsDeleted: res.BallotsDeleted,
		TokensDeleted:  res.TokensDeleted,
	})
}

// --- Статистика ---

// GetElectionStatus — GET /api/v1/elections/{id}/status. Доступ: readonly.
func (h *TallyHandler) GetElectionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	st, err := h.results.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ElectionStatus{
		Election: dto.FromElection(st.Election),
		Tokens:   dto.FromTokenStats(st.Tokens),
		Ballots:  st.Ballots,
		Turnout:  st.Turnout,
	})
}

// GetElectionResults — GET /api/v1/elections/{id}/results. Доступ: readonly.
func (h *TallyHandler) GetElectionResults(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	h.writeResults(w, r, id)
}

// GetTokenDistribution — GET /api/v1/elections/{id}/token-distribution. Доступ: readonly.
func (h *TallyHandler) GetTokenDistribution(w http.ResponseWriter, r *http.Request) {
	id, ok := electionID(w, r)
	if !ok {
		return
	}
	d, err := h.results.TokenDistribution(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.TokenDistribution{
		ElectionID: d.ElectionID,
		Tokens:     dto.FromTokenStats(d.Tokens),
		Hourly:     make([]dto.UsageBucket, 0, len(d.Hourly)),
	}
	for _, b := range d.Hourly {
		resp.Hourly = append(resp.Hourly, dto.UsageBucket{Hour: b.Hour, Count: b.Count})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TallyHandler) writeResults(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.results.Results(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromResults(res))
}

// --- Аудит ---

// listAuditParams — query-параметры GET /api/v1/audit.
type listAuditParams struct {
	ElectionID *string
	Action     *string
	ActorID    *string
	Limit      *int
	Offset     *int
}

// ListAudit — GET /api/v1/audit. Доступ: readonly.
func (h *TallyHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	var p listAuditParams
	q := r.URL.Query()
	for _, b := range []struct {
		name string
		dest any
	}{
		{"election_id", &p.ElectionID},
		{"action", &p.Action},
		{"actor_id", &p.ActorID},
		{"limit", &p.Limit},
		{"offset", &p.Offset},
	} {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			apierrors.ValidationError(w, "Некорректный параметр "+b.name+": "+err.Error())
			return
		}
	}

	if p.ElectionID != nil {
		if _, err := uuid.Parse(*p.ElectionID); err != nil {
			apierrors.ValidationError(w, "election_id должен быть UUID")
			return
		}
	}

	limit, offset := paginationDefaults(p.Limit, p.Offset)
	f := repository.AuditFilter{ElectionID: p.ElectionID, Limit: limit, Offset: offset}
	if p.Action != nil {
		f.Action = *p.Action
	}
	if p.ActorID != nil {
		f.ActorID = *p.ActorID
	}

	entries, total, err := h.audit.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := dto.AuditList{Items: make([]dto.AuditEntry, 0, len(entries)), Total: total, Limit: limit, Offset: offset}
	for _, e := range entries {
		resp.Items = append(resp.Items, dto.FromAuditEntry(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyAudit — GET /api/v1/audit/verify. Доступ: readonly.
func (h *TallyHandler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	v, err := h.audit.Verify(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := dto.AuditVerification{Valid: v.Valid, Entries: v.Checked, VerifiedAt: v.VerifiedAt}
	if v.Break != nil {
		id := v.Break.EntryID
		resp.BrokenAt = &id
		resp.Reason = v.Break.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Бюллетени ---

// SubmitBallot — POST /vote. Аутентификация — Bearer credential.
// Credential и его дайджест не логируются.
func (h *TallyHandler) SubmitBallot(w http.ResponseWriter, r *http.Request) {
	cred, msg := middleware.BearerToken(r)
	if msg != "" {
		apierrors.Unauthorized(w, msg)
		return
	}
	var req dto.VoteRequest
	if !h.body.decode(w, r, schema.VoteRequest, &req) {
		return
	}
	selection := req.Selection()
	if len(selection) == 0 {
		apierrors.ValidationError(w, "Требуется answer_ids или answer_id")
		return
	}

	b, err := h.ballots.Submit(r.Context(), cred, selection)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.VoteResponse{BallotID: b.ID, SubmittedAt: b.SubmittedAt})
}

// --- S2S ---

// registerTokenResponse — ответ на регистрацию дайджеста.
type registerTokenResponse struct {
	Registered bool `json:"registered"`
}

// RegisterToken — POST /s2s/register-token. Доступ: X-Service-Secret.
func (h *TallyHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterTokenRequest
	if !h.body.decode(w, r, schema.RegisterTokenRequest, &req) {
		return
	}
	if _, err := uuid.Parse(req.ElectionID); err != nil {
		apierrors.ValidationError(w, "election_id должен быть UUID")
		return
	}
	if err := h.tokens.Register(r.Context(), middleware.ActorFromRequest(r), req.TokenHash, req.ElectionID, req.ExpiresAt); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerTokenResponse{Registered: true})
}

// S2SResults — GET /s2s/results?election_id=. Доступ: X-Service-Secret.
func (h *TallyHandler) S2SResults(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := runtime.BindQueryParameter("form", true, true, "election_id", r.URL.Query(), &id); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр election_id: "+err.Error())
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "election_id должен быть UUID")
		return
	}
	h.writeResults(w, r, id)
}

// S2SElection — GET /s2s/election. Доступ: X-Service-Secret.
func (h *TallyHandler) S2SElection(w http.ResponseWriter, r *http.Request) {
	e, err := h.elections.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromPublicElection(e))
}
