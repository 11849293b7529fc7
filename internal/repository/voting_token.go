package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/govote/internal/domain/model"
)

// VotingTokenRepository — интерфейс доступа к таблице voting_tokens.
type VotingTokenRepository interface {
	// Insert регистрирует один credential. Повторный дайджест — ErrConflict.
	Insert(ctx context.Context, t *model.VotingToken) error
	// InsertBatch регистрирует credentials одним COPY.
	InsertBatch(ctx context.Context, tokens []*model.VotingToken) (int64, error)
	// LockForVote блокирует credential FOR UPDATE NOWAIT.
	// Ошибки: ErrNotFound, ErrLockNotAvailable.
	LockForVote(ctx context.Context, tokenHash string) (*model.VotingToken, error)
	// MarkUsed переводит credential в used. Уже использованный — ErrConflict.
	MarkUsed(ctx context.Context, tokenHash string, usedAt time.Time) error
	// Stats возвращает сводку по credentials выборов на момент now.
	Stats(ctx context.Context, electionID string, now time.Time) (model.TokenStats, error)
	// UsageByHour возвращает число использований по часам.
	UsageByHour(ctx context.Context, electionID string) ([]model.UsageBucket, error)
	// CountIssued возвращает число выданных credentials выборов.
	CountIssued(ctx context.Context, electionID string) (int, error)
	// LockByElection блокирует все credentials выборов FOR UPDATE NOWAIT.
	// Credential в обработке голоса — ErrLockNotAvailable.
	LockByElection(ctx context.Context, electionID string) error
	// DeleteByElection удаляет все credentials выборов.
	DeleteByElection(ctx context.Context, electionID string) (int64, error)
}

type votingTokenRepo struct {
	db DBTX
}

// NewVotingTokenRepository создаёт репозиторий анонимных credentials.
func NewVotingTokenRepository(db DBTX) VotingTokenRepository {
	return &votingTokenRepo{db: db}
}

func (r *votingTokenRepo) Insert(ctx context.Context, t *model.VotingToken) error {
	query := `
		INSERT INTO voting_tokens (token_hash, election_id, source, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, t.TokenHash, t.ElectionID, string(t.Source), t.IssuedAt, t.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: credential уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка регистрации credential: %w", err)
	}
	return nil
}

func (r *votingTokenRepo) InsertBatch(ctx context.Context, tokens []*model.VotingToken) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"voting_tokens"},
		[]string{"token_hash", "election_id", "source", "issued_at", "expires_at"},
		pgx.CopyFromSlice(len(tokens), func(i int) ([]any, error) {
			t := tokens[i]
			return []any{t.TokenHash, t.ElectionID, string(t.Source), t.IssuedAt, t.ExpiresAt}, nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: повторяющийся credential в пакете", ErrConflict)
		}
		return 0, fmt.Errorf("ошибка пакетной регистрации credentials: %w", err)
	}
	return n, nil
}

func (r *votingTokenRepo) LockForVote(ctx context.Context, tokenHash string) (*model.VotingToken, error) {
	query := `
		SELECT token_hash, election_id, source, issued_at, expires_at, used, used_at
		FROM voting_tokens
		WHERE token_hash = $1
		FOR UPDATE NOWAIT`

	t := &model.VotingToken{}
	var source string
	err := r.db.QueryRow(ctx, query, tokenHash).Scan(
		&t.TokenHash, &t.ElectionID, &source, &t.IssuedAt, &t.ExpiresAt, &t.Used, &t.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isLockNotAvailable(err) {
			return nil, ErrLockNotAvailable
		}
		return nil, fmt.Errorf("ошибка блокировки credential: %w", err)
	}
	t.Source = model.TokenSource(source)
	return t, nil
}

func (r *votingTokenRepo) MarkUsed(ctx context.Context, tokenHash string, usedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE voting_tokens SET used = TRUE, used_at = $2 WHERE token_hash = $1 AND NOT used`,
		tokenHash, usedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка погашения credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: credential уже использован", ErrConflict)
	}
	return nil
}

func (r *votingTokenRepo) Stats(ctx context.Context, electionID string, now time.Time) (model.TokenStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE used),
			COUNT(*) FILTER (WHERE NOT used AND expires_at <= $2),
			COUNT(*) FILTER (WHERE source = 'bulk'),
			COUNT(*) FILTER (WHERE source = 'member'),
			MIN(issued_at), MAX(issued_at), MIN(used_at), MAX(used_at)
		FROM voting_tokens
		WHERE election_id = $1`

	var s model.TokenStats
	err := r.db.QueryRow(ctx, query, electionID, now).Scan(
		&s.Issued, &s.Used, &s.Expired, &s.Bulk, &s.Member,
		&s.FirstIssuedAt, &s.LastIssuedAt, &s.FirstUsedAt, &s.LastUsedAt,
	)
	if err != nil {
		return model.TokenStats{}, fmt.Errorf("ошибка получения статистики credentials: %w", err)
	}
	return s, nil
}

func (r *votingTokenRepo) UsageByHour(ctx context.Context, electionID string) ([]model.UsageBucket, error) {
	query := `
		SELECT date_trunc('hour', used_at) AS hour, COUNT(*)
		FROM voting_tokens
		WHERE election_id = $1 AND used
		GROUP BY hour
		ORDER BY hour`

	rows, err := r.db.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения распределения использования: %w", err)
	}
	defer rows.Close()

	var result []model.UsageBucket
	for rows.Next() {
		var b model.UsageBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования распределения: %w", err)
		}
		b.Hour = b.Hour.UTC()
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *votingTokenRepo) CountIssued(ctx context.Context, electionID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM voting_tokens WHERE election_id = $1`, electionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта credentials: %w", err)
	}
	return n, nil
}

func (r *votingTokenRepo) LockByElection(ctx context.Context, electionID string) error {
	_, err := r.db.Exec(ctx,
		`SELECT token_hash FROM voting_tokens WHERE election_id = $1 FOR UPDATE NOWAIT`, electionID)
	if err != nil {
		if isLockNotAvailable(err) {
			return ErrLockNotAvailable
		}
		return fmt.Errorf("ошибка блокировки credentials выборов: %w", err)
	}
	return nil
}

func (r *votingTokenRepo) DeleteByElection(ctx context.Context, electionID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM voting_tokens WHERE election_id = $1`, electionID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления credentials: %w", err)
	}
	return tag.RowsAffected(), nil
}
