package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TallyRepos — набор репозиториев Tally Service, привязанных к одному DBTX.
type TallyRepos struct {
	Elections ElectionRepository
	Tokens    VotingTokenRepository
	Ballots   BallotRepository
	Audit     AuditRepository
}

// NewTallyRepos создаёт репозитории Tally Service поверх db.
func NewTallyRepos(db DBTX) TallyRepos {
	return TallyRepos{
		Elections: NewElectionRepository(db),
		Tokens:    NewVotingTokenRepository(db),
		Ballots:   NewBallotRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

// TallyStore — доступ к хранилищу Tally Service вне и внутри транзакции.
type TallyStore interface {
	// Repos возвращает репозитории, работающие вне транзакции.
	Repos() TallyRepos
	// InTx выполняет fn в одной транзакции.
	InTx(ctx context.Context, fn func(r TallyRepos) error) error
}

type pgTallyStore struct {
	repos TallyRepos
	tx    *TxRunner
}

// NewTallyStore создаёт TallyStore поверх пула соединений.
func NewTallyStore(pool *pgxpool.Pool) TallyStore {
	return &pgTallyStore{repos: NewTallyRepos(pool), tx: NewTxRunner(pool)}
}

func (s *pgTallyStore) Repos() TallyRepos {
	return s.repos
}

func (s *pgTallyStore) InTx(ctx context.Context, fn func(r TallyRepos) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewTallyRepos(tx))
	})
}

// CredentialRepos — набор репозиториев Credential Service.
type CredentialRepos struct {
	MemberTokens MemberTokenRepository
	Audit        AuditRepository
}

// NewCredentialRepos создаёт репозитории Credential Service поверх db.
func NewCredentialRepos(db DBTX) CredentialRepos {
	return CredentialRepos{
		MemberTokens: NewMemberTokenRepository(db),
		Audit:        NewAuditRepository(db),
	}
}

// CredentialStore — доступ к хранилищу Credential Service.
type CredentialStore interface {
	Repos() CredentialRepos
	InTx(ctx context.Context, fn func(r CredentialRepos) error) error
}

type pgCredentialStore struct {
	repos CredentialRepos
	tx    *TxRunner
}

// NewCredentialStore создаёт CredentialStore поверх пула соединений.
func NewCredentialStore(pool *pgxpool.Pool) CredentialStore {
	return &pgCredentialStore{repos: NewCredentialRepos(pool), tx: NewTxRunner(pool)}
}

func (s *pgCredentialStore) Repos() CredentialRepos {
	return s.repos
}

func (s *pgCredentialStore) InTx(ctx context.Context, fn func(r CredentialRepos) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewCredentialRepos(tx))
	})
}
