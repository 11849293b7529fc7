// elections.go — управление выборами в Tally Service.
// Создание, редактирование, переходы жизненного цикла, скрытие,
// мягкое и физическое удаление, сброс данных.
//
// Каждое изменяющее действие блокирует строку выборов (FOR UPDATE),
// проверяет переход по матрице lifecycle, обновляет строку и добавляет
// запись аудита в той же транзакции.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/govote/internal/domain/credential"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/ratelimit"
	"github.com/bigkaa/govote/internal/repository"
)

// Фразы подтверждения деструктивных операций.
const (
	HardDeleteConfirmation = "DELETE ELECTION PERMANENTLY"
	ResetConfirmation      = "RESET ELECTION DATA"
)

// ElectionConfig — параметры ElectionService.
type ElectionConfig struct {
	// TokenTTL — время жизни credentials, выпускаемых при open
	TokenTTL time.Duration
	// MaxBulkTokens — верхняя граница member_count при open
	MaxBulkTokens int
	// DestructiveLimit, DestructiveWindow — лимит hard-delete и reset на одного суперпользователя
	DestructiveLimit  int
	DestructiveWindow time.Duration
}

// ElectionInput — содержимое новых выборов.
type ElectionInput struct {
	Title          string
	Description    string
	Question       string
	Answers        []model.Answer
	VotingMode     model.VotingMode
	MaxSelection   int
	Eligibility    model.Eligibility
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
}

// ElectionPatch — частичное изменение содержимого (только draft).
// nil — поле не меняется.
type ElectionPatch struct {
	Title          *string
	Description    *string
	Question       *string
	Answers        []model.Answer
	VotingMode     *model.VotingMode
	MaxSelection   *int
	Eligibility    *model.Eligibility
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	// ClearSchedule — сбросить расписание
	ClearSchedule bool
}

// OpenResult — результат открытия выборов.
type OpenResult struct {
	Election    *model.Election
	Credentials []model.IssuedCredential
}

// ResetResult — результат сброса данных выборов.
type ResetResult struct {
	Election       *model.Election
	BallotsDeleted int64
	TokensDeleted  int64
}

// ElectionService — сервис управления выборами.
type ElectionService struct {
	store   repository.TallyStore
	audit   *AuditRecorder
	limiter ratelimit.Limiter
	cfg     ElectionConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewElectionService создаёт сервис управления выборами.
func NewElectionService(
	store repository.TallyStore,
	audit *AuditRecorder,
	limiter ratelimit.Limiter,
	cfg ElectionConfig,
	logger *slog.Logger,
) *ElectionService {
	return &ElectionService{
		store:   store,
		audit:   audit,
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "election_service")),
	}
}

// Create создаёт выборы в статусе draft.
func (s *ElectionService) Create(ctx context.Context, actor model.Actor, in ElectionInput) (*model.Election, error) {
	e := &model.Election{
		ID:             uuid.New().String(),
		Title:          in.Title,
		Description:    in.Description,
		Question:       in.Question,
		Answers:        model.NormalizeAnswers(in.Answers),
		VotingMode:     in.VotingMode,
		MaxSelection:   in.MaxSelection,
		Eligibility:    in.Eligibility,
		ScheduledStart: in.ScheduledStart,
		ScheduledEnd:   in.ScheduledEnd,
		Status:         lifecycle.StatusDraft,
		CreatedBy:      actor.ID,
	}
	if e.VotingMode == "" {
		e.VotingMode = model.ModeSingleChoice
	}
	if e.MaxSelection == 0 {
		e.MaxSelection = 1
	}
	if e.Eligibility == "" {
		e.Eligibility = model.EligibilityMembers
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var retry *model.AuditEntry
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		if err := r.Elections.Create(ctx, e); err != nil {
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditElectionCreated, e.ID, map[string]any{
			"title":         e.Title,
			"voting_mode":   string(e.VotingMode),
			"answers_count": len(e.Answers),
			"eligibility":   string(e.Eligibility),
		}))
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry)

	s.logger.Info("Выборы созданы",
		slog.String("election_id", e.ID),
		slog.String("actor_id", actor.ID),
		slog.String("correlation_id", actor.CorrelationID),
	)
	return e, nil
}

// Get возвращает выборы по ID. Мягко удалённые возвращаются только
// при includeDeleted.
func (s *ElectionService) Get(ctx context.Context, id string, includeDeleted bool) (*model.Election, error) {
	e, err := s.store.Repos().Elections.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if e.Status == lifecycle.StatusDeleted && !includeDeleted {
		return nil, ErrNotFound
	}
	return e, nil
}

// List возвращает страницу выборов и общее число по фильтру.
func (s *ElectionService) List(ctx context.Context, f repository.ElectionFilter) ([]*model.Election, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	items, err := s.store.Repos().Elections.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Repos().Elections.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Current возвращает текущие публичные выборы (open, paused, published; не скрытые).
func (s *ElectionService) Current(ctx context.Context) (*model.Election, error) {
	e, err := s.store.Repos().Elections.Current(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoCurrentElection
		}
		return nil, err
	}
	return e, nil
}

// Update изменяет содержимое выборов. Допустимо только в draft.
func (s *ElectionService) Update(ctx context.Context, actor model.Actor, id string, p ElectionPatch) (*model.Election, error) {
	var (
		e     *model.Election
		retry *model.AuditEntry
	)
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		var err error
		if e, err = s.lockLive(ctx, r, id); err != nil {
			return err
		}
		if !lifecycle.CanEditContent(e.Status) {
			return &lifecycle.TransitionError{
				Code:    lifecycle.CodeInvalidTransition,
				Message: fmt.Sprintf("содержимое выборов редактируется только в статусе draft, текущий: %s", e.Status),
			}
		}

		changed := applyPatch(e, p)
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if err := r.Elections.Update(ctx, e); err != nil {
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditElectionUpdated, e.ID, map[string]any{
			"fields": changed,
		}))
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry)
	return e, nil
}

// applyPatch применяет изменения и возвращает имена изменённых полей.
func applyPatch(e *model.Election, p ElectionPatch) []string {
	var changed []string
	if p.Title != nil {
		e.Title = *p.Title
		changed = append(changed, "title")
	}
	if p.Description != nil {
		e.Description = *p.Description
		changed = append(changed, "description")
	}
	if p.Question != nil {
		e.Question = *p.Question
		changed = append(changed, "question")
	}
	if p.Answers != nil {
		e.Answers = model.NormalizeAnswers(p.Answers)
		changed = append(changed, "answers")
	}
	if p.VotingMode != nil {
		e.VotingMode = *p.VotingMode
		changed = append(changed, "voting_mode")
	}
	if p.MaxSelection != nil {
		e.MaxSelection = *p.MaxSelection
		changed = append(changed, "max_selection")
	}
	if p.Eligibility != nil {
		e.Eligibility = *p.Eligibility
		changed = append(changed, "eligibility")
	}
	if p.ClearSchedule {
		e.ScheduledStart, e.ScheduledEnd = nil, nil
		changed = append(changed, "schedule")
	}
	if p.ScheduledStart != nil {
		e.ScheduledStart = p.ScheduledStart
		changed = append(changed, "scheduled_start")
	}
	if p.ScheduledEnd != nil {
		e.ScheduledEnd = p.ScheduledEnd
		changed = append(changed, "scheduled_end")
	}
	return changed
}

// UpdateMetadata изменяет название и описание в любом статусе, кроме deleted.
func (s *ElectionService) UpdateMetadata(ctx context.Context, actor model.Actor, id string, title, description *string) (*model.Election, error) {
	if title == nil && description == nil {
		return nil, fmt.Errorf("%w: не передано ни одного поля", ErrValidation)
	}

	var (
		e     *model.Election
		retry *model.AuditEntry
	)
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		var err error
		if e, err = s.lockLive(ctx, r, id); err != nil {
			return err
		}
		if !lifecycle.CanEditMetadata(e.Status) {
			return &lifecycle.TransitionError{
				Code:    lifecycle.CodeInvalidTransition,
				Message: fmt.Sprintf("метаданные недоступны для изменения в статусе %s", e.Status),
			}
		}

		changed := applyPatch(e, ElectionPatch{Title: title, Description: description})
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if err := r.Elections.Update(ctx, e); err != nil {
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditMetadataUpdated, e.ID, map[string]any{
			"fields": changed,
			"status": string(e.Status),
		}))
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry)
	return e, nil
}

// transitionAudit — код аудита для действия жизненного цикла.
var transitionAudit = map[lifecycle.Action]string{
	lifecycle.ActionPublish: model.AuditElectionPublished,
	lifecycle.ActionOpen:    model.AuditElectionOpened,
	lifecycle.ActionPause:   model.AuditElectionPaused,
	lifecycle.ActionResume:  model.AuditElectionResumed,
	lifecycle.ActionClose:   model.AuditElectionClosed,
	lifecycle.ActionArchive: model.AuditElectionArchived,
	lifecycle.ActionDelete:  model.AuditElectionDeleted,
}

// Transition выполняет действие жизненного цикла без выпуска credentials:
// publish, pause, resume, close, archive, delete.
// Для open используется Open.
func (s *ElectionService) Transition(ctx context.Context, actor model.Actor, id string, action lifecycle.Action) (*model.Election, error) {
	if action == lifecycle.ActionOpen {
		return nil, fmt.Errorf("%w: открытие выборов требует member_count", ErrValidation)
	}

	var (
		e     *model.Election
		retry *model.AuditEntry
	)
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		var err error
		if e, err = s.lockLive(ctx, r, id); err != nil {
			return err
		}
		from := e.Status
		if err := s.apply(e, action); err != nil {
			return err
		}
		if err := r.Elections.Update(ctx, e); err != nil {
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, transitionAudit[action], e.ID, map[string]any{
			"from": string(from),
			"to":   string(e.Status),
		}))
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry)
	transitionsTotal.WithLabelValues(string(action)).Inc()

	s.logger.Info("Статус выборов изменён",
		slog.String("election_id", e.ID),
		slog.String("action", string(action)),
		slog.String("status", string(e.Status)),
		slog.String("actor_id", actor.ID),
		slog.String("correlation_id", actor.CorrelationID),
	)
	return e, nil
}

// apply проверяет переход и проставляет статус и временную метку.
func (s *ElectionService) apply(e *model.Election, action lifecycle.Action) error {
	next, err := lifecycle.Next(e.Status, action, e.Hidden)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	e.Status = next
	switch action {
	case lifecycle.ActionPublish:
		e.PublishedAt = &now
	case lifecycle.ActionOpen:
		if e.OpenedAt == nil {
			e.OpenedAt = &now
		}
	case lifecycle.ActionClose:
		e.ClosedAt = &now
	case lifecycle.ActionArchive:
		e.ArchivedAt = &now
	case lifecycle.ActionDelete:
		e.DeletedAt = &now
	}
	return nil
}

// Open переводит выборы published → open и выпускает memberCount анонимных
// credentials в той же транзакции. Открытые значения возвращаются один раз.
func (s *ElectionService) Open(ctx context.Context, actor model.Actor, id string, memberCount int) (*OpenResult, error) {
	if memberCount < 1 || memberCount > s.cfg.MaxBulkTokens {
		return nil, fmt.Errorf("%w: member_count должен быть от 1 до %d", ErrValidation, s.cfg.MaxBulkTokens)
	}

	batch, err := credential.NewBatch(memberCount)
	if err != nil {
		return nil, err
	}

	var (
		e      *model.Election
		issued []model.IssuedCredential
		retry  []*model.AuditEntry
	)
	err = s.store.InTx(ctx, func(r repository.TallyRepos) error {
		var err error
		if e, err = s.lockLive(ctx, r, id); err != nil {
			return err
		}
		from := e.Status
		if err := s.apply(e, lifecycle.ActionOpen); err != nil {
			return err
		}

		now := s.now().UTC()
		expires := e.BulkTokenExpiry(now, s.cfg.TokenTTL)
		tokens := make([]*model.VotingToken, 0, len(batch))
		issued = make([]model.IssuedCredential, 0, len(batch))
		for _, c := range batch {
			tokens = append(tokens, &model.VotingToken{
				TokenHash:  c.Hash,
				ElectionID: e.ID,
				Source:     model.SourceBulk,
				IssuedAt:   now,
				ExpiresAt:  expires,
			})
			issued = append(issued, model.IssuedCredential{
				Credential: c.Plaintext,
				ElectionID: e.ID,
				ExpiresAt:  expires,
			})
		}
		if _, err := r.Tokens.InsertBatch(ctx, tokens); err != nil {
			return err
		}
		if err := r.Elections.Update(ctx, e); err != nil {
			return err
		}

		retry = append(retry,
			s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditElectionOpened, e.ID, map[string]any{
				"from": string(from),
				"to":   string(e.Status),
			})),
			s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditTokensBulkIssued, e.ID, map[string]any{
				"count":      len(tokens),
				"expires_at": expires.Format(time.RFC3339),
			})),
		)
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry...)
	transitionsTotal.WithLabelValues(string(lifecycle.ActionOpen)).Inc()
	credentialsIssuedTotal.WithLabelValues(string(model.SourceBulk)).Add(float64(len(issued)))

	s.logger.Info("Выборы открыты",
		slog.String("election_id", e.ID),
		slog.Int("credentials", len(issued)),
		slog.String("actor_id", actor.ID),
		slog.String("correlation_id", actor.CorrelationID),
	)
	return &OpenResult{Election: e, Credentials: issued}, nil
}

// SetHidden скрывает или показывает выборы. Статус не меняется.
func (s *ElectionService) SetHidden(ctx context.Context, actor model.Actor, id string, hidden bool) (*model.Election, error) {
	var (
		e     *model.Election
		retry *model.AuditEntry
	)
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		var err error
		if e, err = s.lockLive(ctx, r, id); err != nil {
			return err
		}
		if e.Hidden == hidden {
			return nil
		}
		e.Hidden = hidden
		if err := r.Elections.Update(ctx, e); err != nil {
			return err
		}
		action := model.AuditElectionUnhidden
		if hidden {
			action = model.AuditElectionHidden
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, action, e.ID, map[string]any{
			"status": string(e.Status),
		}))
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry)
	return e, nil
}

// HardDelete физически удаляет выборы вместе с credentials и бюллетенями.
// Требует фразу подтверждения; запрещено для published, open, paused.
func (s *ElectionService) HardDelete(ctx context.Context, actor model.Actor, id, confirmation string) error {
	if confirmation != HardDeleteConfirmation {
		return fmt.Errorf("%w: ожидается %q", ErrConfirmationRequired, HardDeleteConfirmation)
	}

	var retry *model.AuditEntry
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		e, err := r.Elections.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if lifecycle.IsLive(e.Status) {
			return fmt.Errorf("%w: физическое удаление недоступно в статусе %s", ErrElectionLive, e.Status)
		}
		if err := r.Tokens.LockByElection(ctx, e.ID); err != nil {
			return err
		}
		if err := s.checkDestructiveLimit(ctx, actor, "hard-delete"); err != nil {
			return err
		}
		stats, err := r.Tokens.Stats(ctx, e.ID, s.now())
		if err != nil {
			return err
		}
		ballots, err := r.Ballots.CountByElection(ctx, e.ID)
		if err != nil {
			return err
		}
		if err := r.Elections.Delete(ctx, e.ID); err != nil {
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditElectionHardDeleted, e.ID, map[string]any{
			"title":          e.Title,
			"status":         string(e.Status),
			"tokens_deleted": stats.Issued,
			"ballots":        ballots,
		}))
		return nil
	})
	if err != nil {
		return mapRepoError(err)
	}
	s.audit.Retry(retry)

	s.logger.Warn("Выборы физически удалены",
		slog.String("election_id", id),
		slog.String("actor_id", actor.ID),
		slog.String("correlation_id", actor.CorrelationID),
	)
	return nil
}

// Reset удаляет все бюллетени и credentials выборов. Статус не меняется.
func (s *ElectionService) Reset(ctx context.Context, actor model.Actor, id, confirmation string) (*ResetResult, error) {
	if confirmation != ResetConfirmation {
		return nil, fmt.Errorf("%w: ожидается %q", ErrConfirmationRequired, ResetConfirmation)
	}

	res := &ResetResult{}
	var retry *model.AuditEntry
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		e, err := s.lockLive(ctx, r, id)
		if err != nil {
			return err
		}
		res.Election = e
		// Credentials блокируются раньше удаления: голос держит строку
		// credential и ждёт строку выборов, обратный порядок даёт deadlock.
		if err := r.Tokens.LockByElection(ctx, e.ID); err != nil {
			return err
		}
		if err := s.checkDestructiveLimit(ctx, actor, "reset"); err != nil {
			return err
		}
		if res.BallotsDeleted, err = r.Ballots.DeleteByElection(ctx, e.ID); err != nil {
			return err
		}
		if res.TokensDeleted, err = r.Tokens.DeleteByElection(ctx, e.ID); err != nil {
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditElectionReset, e.ID, map[string]any{
			"status":          string(e.Status),
			"ballots_deleted": res.BallotsDeleted,
			"tokens_deleted":  res.TokensDeleted,
		}))
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.audit.Retry(retry)

	s.logger.Warn("Данные выборов сброшены",
		slog.String("election_id", id),
		slog.Int64("ballots_deleted", res.BallotsDeleted),
		slog.Int64("tokens_deleted", res.TokensDeleted),
		slog.String("actor_id", actor.ID),
		slog.String("correlation_id", actor.CorrelationID),
	)
	return res, nil
}

// checkDestructiveLimit расходует единицу лимита деструктивных операций актора.
// Вызывается после проверки предусловий: отклонённая операция лимит не тратит.
func (s *ElectionService) checkDestructiveLimit(ctx context.Context, actor model.Actor, op string) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Allow(ctx, "destructive:"+actor.ID, s.cfg.DestructiveLimit, s.cfg.DestructiveWindow)
	if err != nil {
		return fmt.Errorf("проверка лимита деструктивных операций: %w", err)
	}
	if !d.Allowed {
		s.logger.Warn("Лимит деструктивных операций исчерпан",
			slog.String("operation", op),
			slog.String("actor_id", actor.ID),
			slog.Time("reset_at", d.ResetAt),
		)
		return &RateLimitError{RetryAfter: d.RetryAfter(s.now())}
	}
	return nil
}

// lockLive блокирует строку выборов; мягко удалённые считаются отсутствующими.
func (s *ElectionService) lockLive(ctx context.Context, r repository.TallyRepos, id string) (*model.Election, error) {
	e, err := r.Elections.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == lifecycle.StatusDeleted {
		return nil, ErrNotFound
	}
	return e, nil
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrLockNotAvailable):
		return ErrRetryLater
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}
