package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
)

// ElectionFilter — типизированные параметры выборки выборов.
// Каждое поле превращается в фиксированное условие с плейсхолдером;
// произвольные фрагменты SQL не принимаются.
type ElectionFilter struct {
	// Statuses — допустимые статусы (пусто — любые, кроме deleted)
	Statuses []lifecycle.Status
	// Hidden — фильтр по флагу скрытия
	Hidden *bool
	// Eligibility — фильтр по классу участников
	Eligibility *model.Eligibility
	// CreatedBy — фильтр по создателю
	CreatedBy *string
	// Search — подстрока в названии (без учёта регистра)
	Search string
	// IncludeDeleted — включать мягко удалённые выборы
	IncludeDeleted bool
	// Limit, Offset — пагинация
	Limit  int
	Offset int
}

// Validate проверяет значения фильтра.
func (f ElectionFilter) Validate() error {
	for _, s := range f.Statuses {
		if !lifecycle.IsValid(s) {
			return fmt.Errorf("недопустимый статус в фильтре: %q", s)
		}
	}
	if f.Eligibility != nil {
		switch *f.Eligibility {
		case model.EligibilityMembers, model.EligibilityAdmins, model.EligibilityEveryone:
		default:
			return fmt.Errorf("недопустимый класс участников в фильтре: %q", *f.Eligibility)
		}
	}
	if len(f.Search) > model.MaxTitleLength {
		return fmt.Errorf("строка поиска длиннее %d символов", model.MaxTitleLength)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return errors.New("limit и offset не могут быть отрицательными")
	}
	return nil
}

// where строит условие WHERE и аргументы из полей фильтра.
func (f ElectionFilter) where() (string, []any) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		conditions = append(conditions, "status = ANY("+arg(statuses)+")")
	} else if !f.IncludeDeleted {
		conditions = append(conditions, "status <> 'deleted'")
	}
	if f.Hidden != nil {
		conditions = append(conditions, "hidden = "+arg(*f.Hidden))
	}
	if f.Eligibility != nil {
		conditions = append(conditions, "eligibility = "+arg(string(*f.Eligibility)))
	}
	if f.CreatedBy != nil {
		conditions = append(conditions, "created_by = "+arg(*f.CreatedBy))
	}
	if f.Search != "" {
		conditions = append(conditions, "title ILIKE '%' || "+arg(escapeLike(f.Search))+" || '%'")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike экранирует спецсимволы LIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ElectionRepository — интерфейс доступа к таблице elections.
type ElectionRepository interface {
	// Create создаёт выборы.
	Create(ctx context.Context, e *model.Election) error
	// GetByID возвращает выборы по UUID.
	GetByID(ctx context.Context, id string) (*model.Election, error)
	// GetForUpdate возвращает выборы с блокировкой строки FOR UPDATE.
	GetForUpdate(ctx context.Context, id string) (*model.Election, error)
	// GetForShare возвращает выборы с блокировкой FOR SHARE.
	GetForShare(ctx context.Context, id string) (*model.Election, error)
	// Current возвращает текущие публичные выборы.
	Current(ctx context.Context) (*model.Election, error)
	// List возвращает выборы по фильтру.
	List(ctx context.Context, f ElectionFilter) ([]*model.Election, error)
	// Count возвращает количество выборов по фильтру (без пагинации).
	Count(ctx context.Context, f ElectionFilter) (int, error)
	// Update сохраняет все изменяемые поля выборов.
	Update(ctx context.Context, e *model.Election) error
	// Delete физически удаляет выборы (каскадно — credentials и бюллетени).
	Delete(ctx context.Context, id string) error
}

type electionRepo struct {
	db DBTX
}

// NewElectionRepository создаёт репозиторий выборов.
func NewElectionRepository(db DBTX) ElectionRepository {
	return &electionRepo{db: db}
}

const electionColumns = `id, title, description, question, answers, voting_mode, max_selection,
	eligibility, scheduled_start, scheduled_end, hidden, status, created_by,
	created_at, updated_at, published_at, opened_at, closed_at, archived_at, deleted_at`

// scanElection читает строку elections.
func scanElection(row pgx.Row) (*model.Election, error) {
	e := &model.Election{}
	var answers []byte
	var mode, eligibility, status string
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Question, &answers, &mode, &e.MaxSelection,
		&eligibility, &e.ScheduledStart, &e.ScheduledEnd, &e.Hidden, &status, &e.CreatedBy,
		&e.CreatedAt, &e.UpdatedAt, &e.PublishedAt, &e.OpenedAt, &e.ClosedAt, &e.ArchivedAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.VotingMode = model.VotingMode(mode)
	e.Eligibility = model.Eligibility(eligibility)
	e.Status = lifecycle.Status(status)
	if e.Answers, err = model.DecodeAnswers(answers); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *electionRepo) Create(ctx context.Context, e *model.Election) error {
	answers, err := model.EncodeAnswers(e.Answers)
	if err != nil {
		return fmt.Errorf("ошибка сериализации ответов: %w", err)
	}

	query := `
		INSERT INTO elections (id, title, description, question, answers, voting_mode, max_selection,
			eligibility, scheduled_start, scheduled_end, hidden, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		e.ID, e.Title, e.Description, e.Question, answers, string(e.VotingMode), e.MaxSelection,
		string(e.Eligibility), e.ScheduledStart, e.ScheduledEnd, e.Hidden, string(e.Status), e.CreatedBy,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: выборы %s уже существуют", ErrConflict, e.ID)
		}
		return fmt.Errorf("ошибка создания выборов: %w", err)
	}
	return nil
}

func (r *electionRepo) GetByID(ctx context.Context, id string) (*model.Election, error) {
	return r.get(ctx, id, "")
}

func (r *electionRepo) GetForUpdate(ctx context.Context, id string) (*model.Election, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *electionRepo) GetForShare(ctx context.Context, id string) (*model.Election, error) {
	return r.get(ctx, id, "FOR SHARE")
}

func (r *electionRepo) get(ctx context.Context, id, lock string) (*model.Election, error) {
	query := `SELECT ` + electionColumns + ` FROM elections WHERE id = $1 ` + lock

	e, err := scanElection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения выборов: %w", err)
	}
	return e, nil
}

func (r *electionRepo) Current(ctx context.Context) (*model.Election, error) {
	query := `
		SELECT ` + electionColumns + `
		FROM elections
		WHERE status IN ('open', 'paused', 'published') AND NOT hidden
		ORDER BY CASE status WHEN 'open' THEN 0 WHEN 'paused' THEN 1 ELSE 2 END,
			COALESCE(opened_at, published_at, created_at) DESC
		LIMIT 1`

	e, err := scanElection(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения текущих выборов: %w", err)
	}
	return e, nil
}

func (r *electionRepo) List(ctx context.Context, f ElectionFilter) ([]*model.Election, error) {
	where, args := f.where()
	args = append(args, f.Limit, f.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM elections
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, electionColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка выборов: %w", err)
	}
	defer rows.Close()

	var result []*model.Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования выборов: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *electionRepo) Count(ctx context.Context, f ElectionFilter) (int, error) {
	where, args := f.where()

	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM elections "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта выборов: %w", err)
	}
	return count, nil
}

func (r *electionRepo) Update(ctx context.Context, e *model.Election) error {
	answers, err := model.EncodeAnswers(e.Answers)
	if err != nil {
		return fmt.Errorf("ошибка сериализации ответов: %w", err)
	}

	query := `
		UPDATE elections
		SET title = $2, description = $3, question = $4, answers = $5, voting_mode = $6,
			max_selection = $7, eligibility = $8, scheduled_start = $9, scheduled_end = $10,
			hidden = $11, status = $12, published_at = $13, opened_at = $14, closed_at = $15,
			archived_at = $16, deleted_at = $17, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = r.db.QueryRow(ctx, query,
		e.ID, e.Title, e.Description, e.Question, answers, string(e.VotingMode),
		e.MaxSelection, string(e.Eligibility), e.ScheduledStart, e.ScheduledEnd,
		e.Hidden, string(e.Status), e.PublishedAt, e.OpenedAt, e.ClosedAt,
		e.ArchivedAt, e.DeletedAt,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления выборов: %w", err)
	}
	return nil
}

func (r *electionRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM elections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления выборов: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
