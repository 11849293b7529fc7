package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/govote/internal/domain/model"
)

// MemberTokenRepository — интерфейс доступа к таблице member_tokens
// Credential Service.
type MemberTokenRepository interface {
	// Lock сериализует выдачу для пары (участник, выборы) до конца транзакции.
	Lock(ctx context.Context, memberID, electionID string) error
	// FindLatest возвращает последнюю выдачу участнику по выборам.
	FindLatest(ctx context.Context, memberID, electionID string) (*model.MemberToken, error)
	// Insert сохраняет выдачу.
	Insert(ctx context.Context, t *model.MemberToken) error
}

type memberTokenRepo struct {
	db DBTX
}

// NewMemberTokenRepository создаёт репозиторий выдач участникам.
func NewMemberTokenRepository(db DBTX) MemberTokenRepository {
	return &memberTokenRepo{db: db}
}

func (r *memberTokenRepo) Lock(ctx context.Context, memberID, electionID string) error {
	return advisoryXactLock(ctx, r.db, "member_token|"+memberID+"|"+electionID)
}

func (r *memberTokenRepo) FindLatest(ctx context.Context, memberID, electionID string) (*model.MemberToken, error) {
	query := `
		SELECT id, member_id, election_id, token_hash, issued_at, expires_at
		FROM member_tokens
		WHERE member_id = $1 AND election_id = $2
		ORDER BY expires_at DESC
		LIMIT 1`

	t := &model.MemberToken{}
	err := r.db.QueryRow(ctx, query, memberID, electionID).Scan(
		&t.ID, &t.MemberID, &t.ElectionID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения выдачи: %w", err)
	}
	return t, nil
}

func (r *memberTokenRepo) Insert(ctx context.Context, t *model.MemberToken) error {
	query := `
		INSERT INTO member_tokens (id, member_id, election_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query, t.ID, t.MemberID, t.ElectionID, t.TokenHash, t.IssuedAt, t.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: credential уже выдан", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения выдачи: %w", err)
	}
	return nil
}
