// ballots.go — подача бюллетеня и защита от повторного голосования.
//
// Единственная явная блокировка на пути голосования — строка credential
// (SELECT ... FOR UPDATE NOWAIT). Параллельный запрос с тем же credential
// получает ErrRetryLater вместо ожидания. Выборы читаются FOR SHARE:
// close ждёт завершения бюллетеней, поданных до него.
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
	"github.com/bigkaa/govote/internal/repository"
)

// BallotService — сервис подачи бюллетеней.
type BallotService struct {
	store  repository.TallyStore
	now    func() time.Time
	logger *slog.Logger
}

// NewBallotService создаёт сервис подачи бюллетеней.
func NewBallotService(store repository.TallyStore, logger *slog.Logger) *BallotService {
	return &BallotService{
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ballot_service")),
	}
}

// Submit расходует credential и сохраняет бюллетень в одной транзакции.
// Бюллетень не аудируется и не логируется с дайджестом credential.
func (s *BallotService) Submit(ctx context.Context, plaintext string, answerIDs []string) (*model.Ballot, error) {
	hash, err := credential.Parse(plaintext)
	if err != nil {
		ballotsTotal.WithLabelValues("invalid_credential").Inc()
		return nil, ErrInvalidCredential
	}

	var ballot *model.Ballot
	err = s.store.InTx(ctx, func(r repository.TallyRepos) error {
		tok, err := r.Tokens.LockForVote(ctx, hash)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				return ErrInvalidCredential
			case errors.Is(err, repository.ErrLockNotAvailable):
				return ErrRetryLater
			default:
				return err
			}
		}
		if tok.Used {
			return ErrAlreadyVoted
		}
		now := s.now()
		if tok.Expired(now) {
			return ErrCredentialExpired
		}

		e, err := r.Elections.GetForShare(ctx, tok.ElectionID)
		if err != nil {
			return err
		}
		if !lifecycle.AcceptsBallots(e.Status) {
			return fmt.Errorf("%w: статус выборов %s", ErrVotingNotOpen, e.Status)
		}
		if err := e.ValidateSelection(answerIDs); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}

		submitted := model.TruncateToMinute(now)
		ballot = &model.Ballot{
			ID:          uuid.New().String(),
			TokenHash:   hash,
			ElectionID:  e.ID,
			AnswerIDs:   answerIDs,
			SubmittedAt: submitted,
		}
		if err := r.Ballots.Insert(ctx, ballot); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyVoted
			}
			return err
		}
		if err := r.Tokens.MarkUsed(ctx, hash, submitted); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyVoted
			}
			return err
		}
		return nil
	})
	if errors.Is(err, repository.ErrLockNotAvailable) {
		err = ErrRetryLater
	}
	if err != nil {
		ballotsTotal.WithLabelValues(ballotResult(err)).Inc()
		return nil, err
	}

	ballotsTotal.WithLabelValues("accepted").Inc()
	s.logger.Debug("Бюллетень принят", slog.String("election_id", ballot.ElectionID))
	return ballot, nil
}

// ballotResult — метка исхода для метрики.
func ballotResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrCredentialExpired):
		return "expired"
	case errors.Is(err, ErrVotingNotOpen):
		return "not_open"
	case errors.Is(err, ErrValidation):
		return "invalid_selection"
	case errors.Is(err, ErrRetryLater):
		return "retry_later"
	default:
		return "error"
	}
}
