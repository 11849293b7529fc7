// Package memstore — in-memory реализация хранилищ Tally и Credential
// Service. Используется в тестах сервисного слоя и HTTP API вместо
// PostgreSQL: транзакция сериализуется и откатывается снимком состояния.
package memstore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/govote/internal/domain/auditchain"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
)

// state — состояние in-memory хранилища. Снимок берётся перед
// транзакцией и восстанавливается при ошибке.
type state struct {
	elections    map[string]model.Election
	tokens       map[string]model.VotingToken
	ballots      []model.Ballot
	audit        []model.AuditEntry
	memberTokens []model.MemberToken
}

func (s *state) clone() *state {
	c := &state{
		elections:    make(map[string]model.Election, len(s.elections)),
		tokens:       make(map[string]model.VotingToken, len(s.tokens)),
		ballots:      append([]model.Ballot(nil), s.ballots...),
		audit:        append([]model.AuditEntry(nil), s.audit...),
		memberTokens: append([]model.MemberToken(nil), s.memberTokens...),
	}
	for k, v := range s.elections {
		c.elections[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

// DB — общее in-memory хранилище репозиториев.
type DB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *state

	// auditFailures — число следующих вызовов Append, завершающихся ошибкой
	auditFailures int
	appendCalls   int
	// held — credentials, занятые параллельной транзакцией голосования
	held map[string]bool
}

func newDB() *DB {
	return &DB{state: (&state{}).clone()}
}

func (db *DB) inTx(fn func() error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snapshot := db.state.clone()
	db.mu.Unlock()

	if err := fn(); err != nil {
		db.mu.Lock()
		db.state = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

// FailAudit заставляет следующие n вызовов Append завершиться ошибкой.
func (db *DB) FailAudit(n int) {
	db.mu.Lock()
	db.auditFailures = n
	db.mu.Unlock()
}

// HoldToken имитирует блокировку credential другой транзакцией:
// LockForVote и LockByElection возвращают ErrLockNotAvailable, пока
// не вызвана возвращённая функция.
func (db *DB) HoldToken(tokenHash string) (release func()) {
	db.mu.Lock()
	if db.held == nil {
		db.held = map[string]bool{}
	}
	db.held[tokenHash] = true
	db.mu.Unlock()
	return func() {
		db.mu.Lock()
		delete(db.held, tokenHash)
		db.mu.Unlock()
	}
}

// AuditEntries возвращает копию журнала аудита.
func (db *DB) AuditEntries() []model.AuditEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.AuditEntry(nil), db.state.audit...)
}

// AuditActions возвращает действия журнала аудита по порядку.
func (db *DB) AuditActions() []string {
	var out []string
	for _, e := range db.AuditEntries() {
		out = append(out, e.Action)
	}
	return out
}

// AppendCalls — число вызовов Append, включая неуспешные.
func (db *DB) AppendCalls() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.appendCalls
}

// MemberTokens возвращает копию записей выдачи Credential Service.
func (db *DB) MemberTokens() []model.MemberToken {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.MemberToken(nil), db.state.memberTokens...)
}

// --- TallyStore ---

// TallyStore реализует repository.TallyStore в памяти.
type TallyStore struct{ db *DB }

func NewTallyStore() (*TallyStore, *DB) {
	db := newDB()
	return &TallyStore{db: db}, db
}

func (s *TallyStore) Repos() repository.TallyRepos {
	return repository.TallyRepos{
		Elections: &electionRepo{db: s.db},
		Tokens:    &tokenRepo{db: s.db},
		Ballots:   &ballotRepo{db: s.db},
		Audit:     &auditRepo{db: s.db},
	}
}

func (s *TallyStore) InTx(_ context.Context, fn func(r repository.TallyRepos) error) error {
	return s.db.inTx(func() error { return fn(s.Repos()) })
}

// --- CredentialStore ---

// CredentialStore реализует repository.CredentialStore в памяти.
type CredentialStore struct{ db *DB }

func NewCredentialStore() (*CredentialStore, *DB) {
	db := newDB()
	return &CredentialStore{db: db}, db
}

func (s *CredentialStore) Repos() repository.CredentialRepos {
	return repository.CredentialRepos{
		MemberTokens: &memberTokenRepo{db: s.db},
		Audit:        &auditRepo{db: s.db},
	}
}

func (s *CredentialStore) InTx(_ context.Context, fn func(r repository.CredentialRepos) error) error {
	return s.db.inTx(func() error { return fn(s.Repos()) })
}

// --- elections ---

type electionRepo struct{ db *DB }

func (r *electionRepo) Create(_ context.Context, e *model.Election) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.elections[e.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	r.db.state.elections[e.ID] = *e
	return nil
}

func (r *electionRepo) GetByID(_ context.Context, id string) (*model.Election, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.state.elections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r *electionRepo) GetForUpdate(ctx context.Context, id string) (*model.Election, error) {
	return r.GetByID(ctx, id)
}

func (r *electionRepo) GetForShare(ctx context.Context, id string) (*model.Election, error) {
	return r.GetByID(ctx, id)
}

func (r *electionRepo) Current(_ context.Context) (*model.Election, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var found *model.Election
	for _, e := range r.db.state.elections {
		if !lifecycle.IsLive(e.Status) || e.Hidden {
			continue
		}
		if found == nil || e.CreatedAt.After(found.CreatedAt) {
			c := e
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *electionRepo) List(ctx context.Context, f repository.ElectionFilter) ([]*model.Election, error) {
	out, err := r.filter(ctx, f)
	if err != nil {
		return nil, err
	}
	return page(out, f.Limit, f.Offset), nil
}

func (r *electionRepo) Count(ctx context.Context, f repository.ElectionFilter) (int, error) {
	out, err := r.filter(ctx, f)
	return len(out), err
}

func (r *electionRepo) filter(_ context.Context, f repository.ElectionFilter) ([]*model.Election, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.Election
	for _, e := range r.db.state.elections {
		if !matchElection(e, f) {
			continue
		}
		c := e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func matchElection(e model.Election, f repository.ElectionFilter) bool {
	if len(f.Statuses) > 0 {
		if !slices.Contains(f.Statuses, e.Status) {
			return false
		}
	} else if e.Status == lifecycle.StatusDeleted && !f.IncludeDeleted {
		return false
	}
	if f.Hidden != nil && e.Hidden != *f.Hidden {
		return false
	}
	if f.Eligibility != nil && e.Eligibility != *f.Eligibility {
		return false
	}
	if f.CreatedBy != nil && e.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *electionRepo) Update(_ context.Context, e *model.Election) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.elections[e.ID]; !ok {
		return repository.ErrNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	r.db.state.elections[e.ID] = *e
	return nil
}

func (r *electionRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.elections[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.state.elections, id)
	for h, t := range r.db.state.tokens {
		if t.ElectionID == id {
			delete(r.db.state.tokens, h)
		}
	}
	kept := r.db.state.ballots[:0]
	for _, b := range r.db.state.ballots {
		if b.ElectionID != id {
			kept = append(kept, b)
		}
	}
	r.db.state.ballots = kept
	return nil
}

// --- voting tokens ---

type tokenRepo struct{ db *DB }

func (r *tokenRepo) Insert(_ context.Context, t *model.VotingToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.tokens[t.TokenHash]; ok {
		return repository.ErrConflict
	}
	r.db.state.tokens[t.TokenHash] = *t
	return nil
}

func (r *tokenRepo) InsertBatch(ctx context.Context, tokens []*model.VotingToken) (int64, error) {
	for _, t := range tokens {
		if err := r.Insert(ctx, t); err != nil {
			return 0, err
		}
	}
	return int64(len(tokens)), nil
}

func (r *tokenRepo) LockForVote(_ context.Context, tokenHash string) (*model.VotingToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.state.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.db.held[tokenHash] {
		return nil, repository.ErrLockNotAvailable
	}
	return &t, nil
}

func (r *tokenRepo) LockByElection(_ context.Context, electionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for h, t := range r.db.state.tokens {
		if t.ElectionID == electionID && r.db.held[h] {
			return repository.ErrLockNotAvailable
		}
	}
	return nil
}

func (r *tokenRepo) MarkUsed(_ context.Context, tokenHash string, usedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.state.tokens[tokenHash]
	if !ok || t.Used {
		return repository.ErrConflict
	}
	t.Used = true
	t.UsedAt = &usedAt
	r.db.state.tokens[tokenHash] = t
	return nil
}

func (r *tokenRepo) Stats(_ context.Context, electionID string, now time.Time) (model.TokenStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var s model.TokenStats
	for _, t := range r.db.state.tokens {
		if t.ElectionID != electionID {
			continue
		}
		s.Issued++
		if t.Used {
			s.Used++
		} else if t.Expired(now) {
			s.Expired++
		}
		switch t.Source {
		case model.SourceBulk:
			s.Bulk++
		case model.SourceMember:
			s.Member++
		}
	}
	return s, nil
}

func (r *tokenRepo) UsageByHour(_ context.Context, electionID string) ([]model.UsageBucket, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := map[time.Time]int{}
	for _, t := range r.db.state.tokens {
		if t.ElectionID == electionID && t.UsedAt != nil {
			counts[t.UsedAt.Truncate(time.Hour)]++
		}
	}
	var out []model.UsageBucket
	for h, c := range counts {
		out = append(out, model.UsageBucket{Hour: h, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}

func (r *tokenRepo) CountIssued(ctx context.Context, electionID string) (int, error) {
	s, err := r.Stats(ctx, electionID, time.Now())
	return s.Issued, err
}

func (r *tokenRepo) DeleteByElection(_ context.Context, electionID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for h, t := range r.db.state.tokens {
		if t.ElectionID == electionID {
			delete(r.db.state.tokens, h)
			n++
		}
	}
	return n, nil
}

// --- ballots ---

type ballotRepo struct{ db *DB }

func (r *ballotRepo) Insert(_ context.Context, b *model.Ballot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.state.ballots {
		if existing.TokenHash == b.TokenHash {
			return repository.ErrConflict
		}
	}
	r.db.state.ballots = append(r.db.state.ballots, *b)
	return nil
}

func (r *ballotRepo) CountByElection(_ context.Context, electionID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, b := range r.db.state.ballots {
		if b.ElectionID == electionID {
			n++
		}
	}
	return n, nil
}

func (r *ballotRepo) TallyAnswers(_ context.Context, electionID string) (map[string]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := map[string]int{}
	for _, b := range r.db.state.ballots {
		if b.ElectionID != electionID {
			continue
		}
		for _, a := range b.AnswerIDs {
			counts[a]++
		}
	}
	return counts, nil
}

func (r *ballotRepo) DeleteByElection(_ context.Context, electionID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	kept := r.db.state.ballots[:0]
	for _, b := range r.db.state.ballots {
		if b.ElectionID == electionID {
			n++
			continue
		}
		kept = append(kept, b)
	}
	r.db.state.ballots = kept
	return n, nil
}

// --- audit ---

// ErrAuditDown возвращается Append, пока действует FailAudit.
var ErrAuditDown = errors.New("audit_log недоступен")

type auditRepo struct{ db *DB }

func (r *auditRepo) Append(_ context.Context, e *model.AuditEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.appendCalls++
	if r.db.auditFailures > 0 {
		r.db.auditFailures--
		return ErrAuditDown
	}
	prev := auditchain.Genesis
	if n := len(r.db.state.audit); n > 0 {
		prev = r.db.state.audit[n-1].EntryHash
	}
	if err := auditchain.Seal(e, prev); err != nil {
		return err
	}
	e.ID = int64(len(r.db.state.audit) + 1)
	r.db.state.audit = append(r.db.state.audit, *e)
	return nil
}

func (r *auditRepo) List(ctx context.Context, f repository.AuditFilter) ([]*model.AuditEntry, error) {
	return page(r.filter(f), f.Limit, f.Offset), nil
}

func (r *auditRepo) Count(_ context.Context, f repository.AuditFilter) (int, error) {
	return len(r.filter(f)), nil
}

// filter возвращает записи от новых к старым.
func (r *auditRepo) filter(f repository.AuditFilter) []*model.AuditEntry {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.AuditEntry
	for i := len(r.db.state.audit) - 1; i >= 0; i-- {
		e := r.db.state.audit[i]
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.ElectionID != nil && (e.ElectionID == nil || *e.ElectionID != *f.ElectionID) {
			continue
		}
		out = append(out, &e)
	}
	return out
}

func (r *auditRepo) Iterate(_ context.Context, fn func(e *model.AuditEntry) error) error {
	for _, e := range r.db.AuditEntries() {
		if err := fn(&e); err != nil {
			return err
		}
	}
	return nil
}

// --- member tokens ---

type memberTokenRepo struct{ db *DB }

func (r *memberTokenRepo) Lock(context.Context, string, string) error { return nil }

func (r *memberTokenRepo) FindLatest(_ context.Context, memberID, electionID string) (*model.MemberToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var found *model.MemberToken
	for _, t := range r.db.state.memberTokens {
		if t.MemberID != memberID || t.ElectionID != electionID {
			continue
		}
		if found == nil || t.ExpiresAt.After(found.ExpiresAt) {
			c := t
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *memberTokenRepo) Insert(_ context.Context, t *model.MemberToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.state.memberTokens = append(r.db.state.memberTokens, *t)
	return nil
}
