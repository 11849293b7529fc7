// results.go — итоги выборов, статус и распределение credentials.
package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
)

// ElectionStatus — оперативная сводка по выборам.
type ElectionStatus struct {
	Election *model.Election
	Tokens   model.TokenStats
	Ballots  int
	// Turnout — доля поданных бюллетеней от выданных credentials, в процентах
	Turnout float64
}

// TokenDistribution — распределение выдачи и использования credentials.
type TokenDistribution struct {
	ElectionID string
	Tokens     model.TokenStats
	Hourly     []model.UsageBucket
}

// ResultsService — чтение итогов и статистики выборов.
type ResultsService struct {
	repos  repository.TallyRepos
	now    func() time.Time
	logger *slog.Logger
}

// NewResultsService создаёт сервис итогов.
func NewResultsService(store repository.TallyStore, logger *slog.Logger) *ResultsService {
	return &ResultsService{
		repos:  store.Repos(),
		now:    time.Now,
		logger: logger.With(slog.String("component", "results_service")),
	}
}

// Results возвращает итоги выборов. Доступно только для closed и archived.
func (s *ResultsService) Results(ctx context.Context, id string) (*model.Results, error) {
	e, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ResultsVisible(e.Status) {
		return nil, ErrResultsNotAvailable
	}

	counts, err := s.repos.Ballots.TallyAnswers(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	ballots, err := s.repos.Ballots.CountByElection(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	issued, err := s.repos.Tokens.CountIssued(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return model.ComputeResults(e, counts, ballots, issued), nil
}

// Status возвращает сводку по выборам в любом статусе.
func (s *ResultsService) Status(ctx context.Context, id string) (*ElectionStatus, error) {
	e, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.repos.Tokens.Stats(ctx, e.ID, s.now())
	if err != nil {
		return nil, err
	}
	ballots, err := s.repos.Ballots.CountByElection(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	st := &ElectionStatus{Election: e, Tokens: stats, Ballots: ballots}
	if stats.Issued > 0 {
		st.Turnout = math.Round(float64(ballots)*10000/float64(stats.Issued)) / 100
	}
	return st, nil
}

// TokenDistribution возвращает сводку credentials и почасовое использование.
func (s *ResultsService) TokenDistribution(ctx context.Context, id string) (*TokenDistribution, error) {
	e, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.repos.Tokens.Stats(ctx, e.ID, s.now())
	if err != nil {
		return nil, err
	}
	hourly, err := s.repos.Tokens.UsageByHour(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return &TokenDistribution{ElectionID: e.ID, Tokens: stats, Hourly: hourly}, nil
}

func (s *ResultsService) get(ctx context.Context, id string) (*model.Election, error) {
	e, err := s.repos.Elections.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if e.Status == lifecycle.StatusDeleted {
		return nil, ErrNotFound
	}
	return e, nil
}
