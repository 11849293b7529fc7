package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/govote/internal/config"
	"github.com/bigkaa/govote/internal/database"
	"github.com/bigkaa/govote/internal/domain/auditchain"
	"github.com/bigkaa/govote/internal/domain/credential"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции сервиса svc.
func setupTestDB(t *testing.T, svc config.Service) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("govote_test"),
		postgres.WithUsername("govote"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	p := svc.Prefix()
	t.Setenv(p+"DB_HOST", host)
	t.Setenv(p+"DB_PORT", port.Port())
	t.Setenv(p+"DB_NAME", "govote_test")
	t.Setenv(p+"DB_USER", "govote")
	t.Setenv(p+"DB_PASSWORD", "test-password")
	t.Setenv(p+"DB_SSL_MODE", "disable")
	t.Setenv(p+"JWT_JWKS_URL", "http://localhost:8080/jwks")
	t.Setenv(p+"S2S_SECRET", "test-s2s-secret-0123456789")
	if svc == config.ServiceCredential {
		t.Setenv(p+"TALLY_URL", "http://localhost:8020")
	}

	cfg, err := config.Load(svc)
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newTestElection создаёт выборы в статусе status.
func newTestElection(t *testing.T, repo ElectionRepository, status lifecycle.Status) *model.Election {
	t.Helper()
	e := &model.Election{
		ID:           uuid.New().String(),
		Title:        "Тестовые выборы",
		Question:     "Принять бюджет?",
		Answers:      []model.Answer{{ID: "Yes", Text: "Yes"}, {ID: "No", Text: "No"}},
		VotingMode:   model.ModeSingleChoice,
		MaxSelection: 1,
		Eligibility:  model.EligibilityMembers,
		Status:       status,
		CreatedBy:    "admin-1",
	}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return e
}

func newTestToken(t *testing.T, electionID string, expires time.Time) (credential.Issued, *model.VotingToken) {
	t.Helper()
	c, err := credential.New()
	if err != nil {
		t.Fatalf("credential.New() ошибка: %v", err)
	}
	return c, &model.VotingToken{
		TokenHash:  c.Hash,
		ElectionID: electionID,
		Source:     model.SourceBulk,
		IssuedAt:   time.Now().UTC(),
		ExpiresAt:  expires,
	}
}

// --- ElectionRepository ---

func TestElectionCRUD(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	ctx := context.Background()
	repo := NewElectionRepository(pool)

	e := newTestElection(t, repo, lifecycle.StatusDraft)
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	got, err := repo.GetByID(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if len(got.Answers) != 2 || got.Answers[0].ID != "Yes" {
		t.Errorf("Answers = %+v", got.Answers)
	}
	if got.Status != lifecycle.StatusDraft {
		t.Errorf("Status = %q, хотели draft", got.Status)
	}

	now := time.Now().UTC()
	got.Status = lifecycle.StatusPublished
	got.PublishedAt = &now
	got.Title = "Обновлённые выборы"
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}

	cur, err := repo.Current(ctx)
	if err != nil {
		t.Fatalf("Current() ошибка: %v", err)
	}
	if cur.ID != e.ID || cur.Title != "Обновлённые выборы" {
		t.Errorf("Current() = %s %q", cur.ID, cur.Title)
	}

	if err := repo.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("После Delete ожидали ErrNotFound, получили: %v", err)
	}
	if _, err := repo.Current(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Current() без выборов: ожидали ErrNotFound, получили: %v", err)
	}
}

func TestElectionList_Filter(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	ctx := context.Background()
	repo := NewElectionRepository(pool)

	newTestElection(t, repo, lifecycle.StatusDraft)
	newTestElection(t, repo, lifecycle.StatusOpen)
	newTestElection(t, repo, lifecycle.StatusDeleted)

	all, err := repo.List(ctx, ElectionFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() без фильтра вернул %d, хотели 2 (deleted исключены)", len(all))
	}

	open, err := repo.List(ctx, ElectionFilter{Statuses: []lifecycle.Status{lifecycle.StatusOpen}, Limit: 10})
	if err != nil {
		t.Fatalf("List(open) ошибка: %v", err)
	}
	if len(open) != 1 || open[0].Status != lifecycle.StatusOpen {
		t.Errorf("List(open) = %d записей", len(open))
	}

	count, err := repo.Count(ctx, ElectionFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 3 {
		t.Errorf("Count(IncludeDeleted) = %d, хотели 3", count)
	}

	// Спецсимволы LIKE не работают как шаблон
	none, err := repo.Count(ctx, ElectionFilter{Search: "%"})
	if err != nil {
		t.Fatalf("Count(Search) ошибка: %v", err)
	}
	if none != 0 {
		t.Errorf("Count(Search=%%) = %d, хотели 0", none)
	}
}

// --- VotingTokenRepository / BallotRepository ---

// TestVote_ExactlyOnceConcurrent — из N параллельных попыток
// израсходовать один credential успешна ровно одна.
func TestVote_ExactlyOnceConcurrent(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	ctx := context.Background()
	store := NewTallyStore(pool)

	e := newTestElection(t, store.Repos().Elections, lifecycle.StatusOpen)
	_, tok := newTestToken(t, e.ID, time.Now().Add(time.Hour))
	if err := store.Repos().Tokens.Insert(ctx, tok); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, func(r TallyRepos) error {
				locked, err := r.Tokens.LockForVote(ctx, tok.TokenHash)
				if err != nil {
					return err
				}
				if locked.Used {
					return ErrConflict
				}
				if _, err := r.Elections.GetForShare(ctx, e.ID); err != nil {
					return err
				}
				now := model.TruncateToMinute(time.Now())
				if err := r.Ballots.Insert(ctx, &model.Ballot{
					ID: uuid.New().String(), TokenHash: tok.TokenHash, ElectionID: e.ID,
					AnswerIDs: []string{"Yes"}, SubmittedAt: now,
				}); err != nil {
					return err
				}
				return r.Tokens.MarkUsed(ctx, tok.TokenHash, now)
			})
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case errors.Is(err, ErrConflict), errors.Is(err, ErrLockNotAvailable):
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("успешных голосов = %d, хотели 1", successes)
	}
	ballots, err := store.Repos().Ballots.CountByElection(ctx, e.ID)
	if err != nil {
		t.Fatalf("CountByElection() ошибка: %v", err)
	}
	if ballots != 1 {
		t.Errorf("бюллетеней = %d, хотели 1", ballots)
	}
}

func TestVotingTokens_StatsAndTally(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	ctx := context.Background()
	repos := NewTallyRepos(pool)

	e := newTestElection(t, repos.Elections, lifecycle.StatusOpen)

	var tokens []*model.VotingToken
	for i := 0; i < 3; i++ {
		_, tok := newTestToken(t, e.ID, time.Now().Add(time.Hour))
		tokens = append(tokens, tok)
	}
	n, err := repos.Tokens.InsertBatch(ctx, tokens)
	if err != nil {
		t.Fatalf("InsertBatch() ошибка: %v", err)
	}
	if n != 3 {
		t.Fatalf("InsertBatch() = %d, хотели 3", n)
	}
	if _, err := repos.Tokens.InsertBatch(ctx, tokens[:1]); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный InsertBatch: ожидали ErrConflict, получили %v", err)
	}

	now := model.TruncateToMinute(time.Now())
	if err := repos.Ballots.Insert(ctx, &model.Ballot{
		ID: uuid.New().String(), TokenHash: tokens[0].TokenHash, ElectionID: e.ID,
		AnswerIDs: []string{"Yes"}, SubmittedAt: now,
	}); err != nil {
		t.Fatalf("Ballots.Insert() ошибка: %v", err)
	}
	if err := repos.Tokens.MarkUsed(ctx, tokens[0].TokenHash, now); err != nil {
		t.Fatalf("MarkUsed() ошибка: %v", err)
	}
	if err := repos.Tokens.MarkUsed(ctx, tokens[0].TokenHash, now); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный MarkUsed: ожидали ErrConflict, получили %v", err)
	}

	stats, err := repos.Tokens.Stats(ctx, e.ID, time.Now())
	if err != nil {
		t.Fatalf("Stats() ошибка: %v", err)
	}
	if stats.Issued != 3 || stats.Used != 1 || stats.Bulk != 3 || stats.Unused() != 2 {
		t.Errorf("Stats() = %+v", stats)
	}

	usage, err := repos.Tokens.UsageByHour(ctx, e.ID)
	if err != nil {
		t.Fatalf("UsageByHour() ошибка: %v", err)
	}
	if len(usage) != 1 || usage[0].Count != 1 {
		t.Errorf("UsageByHour() = %+v", usage)
	}

	counts, err := repos.Ballots.TallyAnswers(ctx, e.ID)
	if err != nil {
		t.Fatalf("TallyAnswers() ошибка: %v", err)
	}
	if counts["Yes"] != 1 || counts["No"] != 0 {
		t.Errorf("TallyAnswers() = %v", counts)
	}

	deleted, err := repos.Ballots.DeleteByElection(ctx, e.ID)
	if err != nil || deleted != 1 {
		t.Errorf("Ballots.DeleteByElection() = %d, %v", deleted, err)
	}
	deleted, err = repos.Tokens.DeleteByElection(ctx, e.ID)
	if err != nil || deleted != 3 {
		t.Errorf("Tokens.DeleteByElection() = %d, %v", deleted, err)
	}
}

func TestVotingTokens_LockForVoteUnknown(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	store := NewTallyStore(pool)

	err := store.InTx(context.Background(), func(r TallyRepos) error {
		_, err := r.Tokens.LockForVote(context.Background(), credential.Digest("unknown"))
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestVotingTokens_LockByElectionWhileVoting(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	ctx := context.Background()
	store := NewTallyStore(pool)

	e := newTestElection(t, store.Repos().Elections, lifecycle.StatusOpen)
	_, tok := newTestToken(t, e.ID, time.Now().Add(time.Hour))
	if err := store.Repos().Tokens.Insert(ctx, tok); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(r TallyRepos) error {
			if _, err := r.Tokens.LockForVote(ctx, tok.TokenHash); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := store.InTx(ctx, func(r TallyRepos) error {
		if _, err := r.Elections.GetForUpdate(ctx, e.ID); err != nil {
			return err
		}
		return r.Tokens.LockByElection(ctx, e.ID)
	})
	close(release)
	if !errors.Is(err, ErrLockNotAvailable) {
		t.Errorf("LockByElection() при голосовании: ожидали ErrLockNotAvailable, получили %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("транзакция голосования: %v", err)
	}

	// Без параллельного голоса блокировка проходит
	if err := store.InTx(ctx, func(r TallyRepos) error {
		return r.Tokens.LockByElection(ctx, e.ID)
	}); err != nil {
		t.Errorf("LockByElection() ошибка: %v", err)
	}
}

// --- AuditRepository ---

func TestAudit_ChainAndSavepoint(t *testing.T) {
	pool := setupTestDB(t, config.ServiceTally)
	ctx := context.Background()
	store := NewTallyStore(pool)

	for i := 0; i < 3; i++ {
		err := store.Repos().Audit.Append(ctx, &model.AuditEntry{
			Action:    model.AuditElectionCreated,
			ActorID:   "admin-1",
			Details:   model.NewAuditDetails(map[string]any{"n": i}),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Append() ошибка: %v", err)
		}
	}

	// Ошибка аудита внутри транзакции не откатывает бизнес-действие
	var e *model.Election
	err := store.InTx(ctx, func(r TallyRepos) error {
		e = newTestElection(t, r.Elections, lifecycle.StatusDraft)
		bad := "not-a-uuid"
		if err := r.Audit.Append(ctx, &model.AuditEntry{
			Action: model.AuditElectionCreated, ActorID: "admin-1", ElectionID: &bad,
			Details: model.NewAuditDetails(nil), CreatedAt: time.Now(),
		}); err == nil {
			t.Error("ожидали ошибку записи аудита с некорректным election_id")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() ошибка: %v", err)
	}
	if _, err := store.Repos().Elections.GetByID(ctx, e.ID); err != nil {
		t.Errorf("выборы не сохранились после ошибки аудита: %v", err)
	}

	v := auditchain.NewVerifier()
	if err := store.Repos().Audit.Iterate(ctx, func(entry *model.AuditEntry) error {
		v.Add(entry)
		return nil
	}); err != nil {
		t.Fatalf("Iterate() ошибка: %v", err)
	}
	if v.Checked() != 3 {
		t.Errorf("проверено %d записей, хотели 3", v.Checked())
	}
	if b := v.Result(); b != nil {
		t.Errorf("цепочка нарушена: %+v", b)
	}

	list, err := store.Repos().Audit.List(ctx, AuditFilter{Action: model.AuditElectionCreated, Limit: 2})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 || list[0].ID < list[1].ID {
		t.Errorf("List() должен вернуть 2 записи, новые первыми: %+v", list)
	}

	// Журнал только на добавление
	if _, err := pool.Exec(ctx, `UPDATE audit_log SET actor_id = 'intruder'`); err == nil {
		t.Error("UPDATE audit_log должен быть запрещён")
	}
}

// --- MemberTokenRepository ---

func TestMemberTokens(t *testing.T) {
	pool := setupTestDB(t, config.ServiceCredential)
	ctx := context.Background()
	store := NewCredentialStore(pool)

	electionID := uuid.New().String()
	if _, err := store.Repos().MemberTokens.FindLatest(ctx, "member-1", electionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидали ErrNotFound, получили %v", err)
	}

	c, _ := newTestToken(t, electionID, time.Now())
	now := time.Now().UTC()
	err := store.InTx(ctx, func(r CredentialRepos) error {
		if err := r.MemberTokens.Lock(ctx, "member-1", electionID); err != nil {
			return err
		}
		return r.MemberTokens.Insert(ctx, &model.MemberToken{
			ID: uuid.New().String(), MemberID: "member-1", ElectionID: electionID,
			TokenHash: c.Hash, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("InTx() ошибка: %v", err)
	}

	got, err := store.Repos().MemberTokens.FindLatest(ctx, "member-1", electionID)
	if err != nil {
		t.Fatalf("FindLatest() ошибка: %v", err)
	}
	if got.TokenHash != c.Hash || !got.Live(now) {
		t.Errorf("FindLatest() = %+v", got)
	}
}
