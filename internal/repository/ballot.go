package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/govote/internal/domain/model"
)

// BallotRepository — интерфейс доступа к таблице ballots.
type BallotRepository interface {
	// Insert сохраняет бюллетень. Повторный token_hash — ErrConflict.
	Insert(ctx context.Context, b *model.Ballot) error
	// CountByElection возвращает число бюллетеней выборов.
	CountByElection(ctx context.Context, electionID string) (int, error)
	// TallyAnswers возвращает число выборов каждого варианта ответа.
	TallyAnswers(ctx context.Context, electionID string) (map[string]int, error)
	// DeleteByElection удаляет все бюллетени выборов.
	DeleteByElection(ctx context.Context, electionID string) (int64, error)
}

type ballotRepo struct {
	db DBTX
}

// NewBallotRepository создаёт репозиторий бюллетеней.
func NewBallotRepository(db DBTX) BallotRepository {
	return &ballotRepo{db: db}
}

func (r *ballotRepo) Insert(ctx context.Context, b *model.Ballot) error {
	query := `
		INSERT INTO ballots (id, token_hash, election_id, answer_ids, submitted_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, b.ID, b.TokenHash, b.ElectionID, b.AnswerIDs, b.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: бюллетень по этому credential уже подан", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения бюллетеня: %w", err)
	}
	return nil
}

func (r *ballotRepo) CountByElection(ctx context.Context, electionID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ballots WHERE election_id = $1`, electionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта бюллетеней: %w", err)
	}
	return n, nil
}

func (r *ballotRepo) TallyAnswers(ctx context.Context, electionID string) (map[string]int, error) {
	query := `
		SELECT answer_id, COUNT(*)
		FROM ballots, unnest(answer_ids) AS answer_id
		WHERE election_id = $1
		GROUP BY answer_id`

	rows, err := r.db.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта голосов: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("ошибка сканирования итогов: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *ballotRepo) DeleteByElection(ctx context.Context, electionID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ballots WHERE election_id = $1`, electionID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления бюллетеней: %w", err)
	}
	return tag.RowsAffected(), nil
}
