// issuance.go — самостоятельная выдача credentials участникам (Credential Service).
//
// Порядок выдачи:
//  1. Текущие выборы запрашиваются у Tally Service
//  2. Проверяются статус (published, open) и допуск участника
//  3. Под advisory-блокировкой (участник, выборы) проверяется отсутствие
//     действующего credential
//  4. Дайджест регистрируется в Tally Service с ограниченным таймаутом
//  5. Выдача и запись аудита фиксируются; открытое значение возвращается один раз
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/govote/internal/domain/credential"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
	"github.com/bigkaa/govote/internal/tallyclient"
)

// TallyGateway — операции Tally Service, нужные Credential Service.
type TallyGateway interface {
	RegisterToken(ctx context.Context, tokenHash, electionID string, expiresAt time.Time) error
	CurrentElection(ctx context.Context) (*model.Election, error)
	Results(ctx context.Context, electionID string) (*model.Results, error)
}

// Состояния credential участника.
const (
	MemberTokenNone    = "none"
	MemberTokenLive    = "live"
	MemberTokenExpired = "expired"
)

// MemberStatus — состояние credential участника по текущим выборам.
type MemberStatus struct {
	Election  *model.Election
	State     string
	Eligible  bool
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

// IssuanceConfig — параметры IssuanceService.
type IssuanceConfig struct {
	TokenTTL     time.Duration
	TallyTimeout time.Duration
}

// IssuanceService — выдача credentials участникам.
type IssuanceService struct {
	store  repository.CredentialStore
	tally  TallyGateway
	audit  *AuditRecorder
	cfg    IssuanceConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewIssuanceService создаёт сервис выдачи credentials.
func NewIssuanceService(
	store repository.CredentialStore,
	tally TallyGateway,
	audit *AuditRecorder,
	cfg IssuanceConfig,
	logger *slog.Logger,
) *IssuanceService {
	return &IssuanceService{
		store:  store,
		tally:  tally,
		audit:  audit,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "issuance_service")),
	}
}

// CurrentElection возвращает текущие публичные выборы из Tally Service.
func (s *IssuanceService) CurrentElection(ctx context.Context) (*model.Election, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TallyTimeout)
	defer cancel()

	e, err := s.tally.CurrentElection(ctx)
	if err != nil {
		var apiErr *tallyclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrNoCurrentElection
		}
		return nil, fmt.Errorf("%w: %w", ErrTallyUnavailable, err)
	}
	return e, nil
}

// RequestToken выдаёт участнику credential по текущим выборам.
// role — роль участника, определённая по группам JWT.
func (s *IssuanceService) RequestToken(ctx context.Context, actor model.Actor, role string) (*model.IssuedCredential, error) {
	e, err := s.CurrentElection(ctx)
	if err != nil {
		return nil, err
	}
	if !lifecycle.AcceptsIssuance(e.Status) {
		return nil, fmt.Errorf("%w: выдача недоступна в статусе %s", ErrVotingNotOpen, e.Status)
	}
	if !e.Eligibility.Permits(role) {
		return nil, ErrNotEligible
	}

	var (
		issued     *model.IssuedCredential
		retry      *model.AuditEntry
		registered bool
	)
	err = s.store.InTx(ctx, func(r repository.CredentialRepos) error {
		if err := r.MemberTokens.Lock(ctx, actor.ID, e.ID); err != nil {
			return err
		}
		now := s.now().UTC()

		prev, err := r.MemberTokens.FindLatest(ctx, actor.ID, e.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if prev != nil && prev.Live(now) {
			return ErrLiveTokenExists
		}

		c, err := credential.New()
		if err != nil {
			return err
		}
		expires := now.Add(s.cfg.TokenTTL)

		if err := s.register(ctx, c.Hash, e.ID, expires); err != nil {
			return err
		}
		registered = true

		if err := r.MemberTokens.Insert(ctx, &model.MemberToken{
			ID:         uuid.New().String(),
			MemberID:   actor.ID,
			ElectionID: e.ID,
			TokenHash:  c.Hash,
			IssuedAt:   now,
			ExpiresAt:  expires,
		}); err != nil {
			return err
		}

		data := map[string]any{"expires_at": expires.Format(time.RFC3339)}
		if prev != nil {
			data["reissue"] = true
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditTokenIssued, e.ID, data))

		issued = &model.IssuedCredential{Credential: c.Plaintext, ElectionID: e.ID, ExpiresAt: expires}
		return nil
	})
	if err != nil {
		if registered {
			// Дайджест уже в Tally Service, но plaintext участник не получит.
			s.logger.Error("Выдача отменена после регистрации в Tally Service",
				slog.String("election_id", e.ID),
				slog.String("correlation_id", actor.CorrelationID),
				slog.String("error", err.Error()),
			)
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, err
	}
	s.audit.Retry(retry)
	credentialsIssuedTotal.WithLabelValues(string(model.SourceMember)).Inc()

	s.logger.Info("Credential выдан участнику",
		slog.String("election_id", e.ID),
		slog.String("member_id", actor.ID),
		slog.String("correlation_id", actor.CorrelationID),
	)
	return issued, nil
}

// register регистрирует дайджест в Tally Service с таймаутом.
func (s *IssuanceService) register(ctx context.Context, hash, electionID string, expires time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TallyTimeout)
	defer cancel()

	err := s.tally.RegisterToken(ctx, hash, electionID, expires)
	if err == nil {
		return nil
	}

	var apiErr *tallyclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusConflict && apiErr.Code == "TOKEN_ALREADY_REGISTERED":
			return ErrTokenAlreadyRegistered
		case apiErr.Status == http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrVotingNotOpen, apiErr.Message)
		case apiErr.Status == http.StatusNotFound:
			return ErrNoCurrentElection
		}
	}

	s.logger.Error("Регистрация credential в Tally Service не удалась",
		slog.String("election_id", electionID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %w", ErrTallyUnavailable, err)
}

// MyStatus возвращает состояние credential участника по текущим выборам.
// Израсходован ли credential, Credential Service не знает и не запрашивает.
func (s *IssuanceService) MyStatus(ctx context.Context, memberID, role string) (*MemberStatus, error) {
	e, err := s.CurrentElection(ctx)
	if err != nil {
		return nil, err
	}

	st := &MemberStatus{Election: e, State: MemberTokenNone, Eligible: e.Eligibility.Permits(role)}
	t, err := s.store.Repos().MemberTokens.FindLatest(ctx, memberID, e.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return st, nil
		}
		return nil, err
	}

	st.IssuedAt = &t.IssuedAt
	st.ExpiresAt = &t.ExpiresAt
	if t.Live(s.now()) {
		st.State = MemberTokenLive
	} else {
		st.State = MemberTokenExpired
	}
	return st, nil
}

// Results возвращает итоги выборов из Tally Service.
func (s *IssuanceService) Results(ctx context.Context, electionID string) (*model.Results, error) {
	if _, err := uuid.Parse(electionID); err != nil {
		return nil, fmt.Errorf("%w: election_id должен быть UUID", ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TallyTimeout)
	defer cancel()

	res, err := s.tally.Results(ctx, electionID)
	if err != nil {
		var apiErr *tallyclient.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusNotFound:
				return nil, ErrNotFound
			case http.StatusConflict:
				return nil, ErrResultsNotAvailable
			}
		}
		s.logger.Warn("Итоги недоступны",
			slog.String("election_id", electionID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrResultsUnavailable, err)
	}
	return res, nil
}
