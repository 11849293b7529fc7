// tokens.go — регистрация credentials, выданных Credential Service.
// Tally Service получает только дайджест: открытое значение и
// идентичность участника сюда не передаются.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/govote/internal/domain/credential"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
)

// TokenService — приём S2S-регистрации дайджестов.
type TokenService struct {
	store  repository.TallyStore
	audit  *AuditRecorder
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService создаёт сервис регистрации credentials.
func NewTokenService(store repository.TallyStore, audit *AuditRecorder, logger *slog.Logger) *TokenService {
	return &TokenService{
		store:  store,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "token_service")),
	}
}

// Register сохраняет дайджест credential для выборов.
// Выборы должны быть published или open; повторный дайджест —
// ErrTokenAlreadyRegistered.
func (s *TokenService) Register(ctx context.Context, actor model.Actor, tokenHash, electionID string, expiresAt time.Time) error {
	if !credential.IsHex64(tokenHash) {
		return fmt.Errorf("%w: token_hash должен быть 64 символа hex в нижнем регистре", ErrValidation)
	}
	now := s.now()
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: expires_at должен быть в будущем", ErrValidation)
	}

	var retry *model.AuditEntry
	err := s.store.InTx(ctx, func(r repository.TallyRepos) error {
		e, err := r.Elections.GetForShare(ctx, electionID)
		if err != nil {
			return err
		}
		if e.Status == lifecycle.StatusDeleted {
			return ErrNotFound
		}
		if !lifecycle.AcceptsIssuance(e.Status) || e.Hidden {
			return fmt.Errorf("%w: выдача credentials недоступна в статусе %s", ErrVotingNotOpen, e.Status)
		}

		if err := r.Tokens.Insert(ctx, &model.VotingToken{
			TokenHash:  tokenHash,
			ElectionID: e.ID,
			Source:     model.SourceMember,
			IssuedAt:   now.UTC(),
			ExpiresAt:  expiresAt.UTC(),
		}); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrTokenAlreadyRegistered
			}
			return err
		}
		retry = s.audit.Record(ctx, r.Audit, s.audit.Entry(actor, model.AuditTokenRegistered, e.ID, map[string]any{
			"source": string(model.SourceMember),
		}))
		return nil
	})
	if err != nil {
		return mapRepoError(err)
	}
	s.audit.Retry(retry)
	credentialsIssuedTotal.WithLabelValues(string(model.SourceMember)).Inc()
	return nil
}
