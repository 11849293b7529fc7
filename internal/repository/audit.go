package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/govote/internal/domain/auditchain"
	"github.com/bigkaa/govote/internal/domain/model"
)

// auditChainLockKey — ключ advisory-блокировки, сериализующей
// добавление записей в хэш-цепочку.
const auditChainLockKey = "govote.audit_log.chain"

// AuditFilter — параметры выборки журнала аудита.
type AuditFilter struct {
	ElectionID *string
	Action     string
	ActorID    string
	Limit      int
	Offset     int
}

func (f AuditFilter) where() (string, []any) {
	var conditions []string
	var args []any
	if f.ElectionID != nil {
		args = append(args, *f.ElectionID)
		conditions = append(conditions, fmt.Sprintf("election_id = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	where := ""
	for i, c := range conditions {
		if i == 0 {
			where = "WHERE " + c
		} else {
			where += " AND " + c
		}
	}
	return where, args
}

// AuditRepository — интерфейс журнала аудита (только добавление).
type AuditRepository interface {
	// Append запечатывает запись хэшем цепочки и добавляет её.
	// Выполняется в собственной точке сохранения: ошибка аудита
	// не ломает внешнюю транзакцию.
	Append(ctx context.Context, e *model.AuditEntry) error
	// List возвращает записи по фильтру, новые первыми.
	List(ctx context.Context, f AuditFilter) ([]*model.AuditEntry, error)
	// Count возвращает количество записей по фильтру.
	Count(ctx context.Context, f AuditFilter) (int, error)
	// Iterate обходит весь журнал в порядке id.
	Iterate(ctx context.Context, fn func(e *model.AuditEntry) error) error
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

const auditColumns = `id, action, actor_id, election_id, details, caller_ip,
	correlation_id, created_at, prev_hash, entry_hash`

func scanAuditEntry(row pgx.Row) (*model.AuditEntry, error) {
	e := &model.AuditEntry{}
	var details []byte
	err := row.Scan(&e.ID, &e.Action, &e.ActorID, &e.ElectionID, &details, &e.CallerIP,
		&e.CorrelationID, &e.CreatedAt, &e.PrevHash, &e.EntryHash)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(details, &e.Details); err != nil {
		return nil, fmt.Errorf("ошибка разбора деталей аудита #%d: %w", e.ID, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (r *auditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	sp, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала записи аудита: %w", err)
	}
	defer sp.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := advisoryXactLock(ctx, sp, auditChainLockKey); err != nil {
		return err
	}

	prev := auditchain.Genesis
	err = sp.QueryRow(ctx, `SELECT entry_hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ошибка чтения хвоста цепочки аудита: %w", err)
	}

	if err := auditchain.Seal(e, prev); err != nil {
		return err
	}
	details, err := e.Details.Canonical()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (action, actor_id, election_id, details, caller_ip,
			correlation_id, created_at, prev_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err = sp.QueryRow(ctx, query,
		e.Action, e.ActorID, e.ElectionID, details, e.CallerIP,
		e.CorrelationID, e.CreatedAt, e.PrevHash, e.EntryHash,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, f AuditFilter) ([]*model.AuditEntry, error) {
	where, args := f.where()
	args = append(args, f.Limit, f.Offset)

	query := fmt.Sprintf(`SELECT %s FROM audit_log %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditRepo) Count(ctx context.Context, f AuditFilter) (int, error) {
	where, args := f.where()

	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return count, nil
}

func (r *auditRepo) Iterate(ctx context.Context, fn func(e *model.AuditEntry) error) error {
	rows, err := r.db.Query(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY id`)
	if err != nil {
		return fmt.Errorf("ошибка чтения журнала аудита: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
