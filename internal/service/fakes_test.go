package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/tallyclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Tally Service для Credential Service ---

// tallyBridge — TallyGateway, вызывающий сервисы Tally напрямую.
type tallyBridge struct {
	elections *ElectionService
	tokens    *TokenService
	results   *ResultsService

	// fail — ошибка, возвращаемая всеми вызовами (имитация недоступности)
	fail error
}

func (b *tallyBridge) RegisterToken(ctx context.Context, tokenHash, electionID string, expiresAt time.Time) error {
	if b.fail != nil {
		return b.fail
	}
	err := b.tokens.Register(ctx, model.Actor{ID: model.SystemActor}, tokenHash, electionID, expiresAt)
	return asAPIError(err)
}

func (b *tallyBridge) CurrentElection(ctx context.Context) (*model.Election, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	e, err := b.elections.Current(ctx)
	return e, asAPIError(err)
}

func (b *tallyBridge) Results(ctx context.Context, electionID string) (*model.Results, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	r, err := b.results.Results(ctx, electionID)
	return r, asAPIError(err)
}

// asAPIError переводит ошибки Tally в ответы S2S API.
func asAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTokenAlreadyRegistered):
		return &tallyclient.APIError{Status: 409, Code: "TOKEN_ALREADY_REGISTERED"}
	case errors.Is(err, ErrVotingNotOpen):
		return &tallyclient.APIError{Status: 409, Code: "VOTING_NOT_OPEN"}
	case errors.Is(err, ErrResultsNotAvailable):
		return &tallyclient.APIError{Status: 409, Code: "RESULTS_NOT_AVAILABLE"}
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoCurrentElection):
		return &tallyclient.APIError{Status: 404, Code: "NOT_FOUND"}
	default:
		return &tallyclient.APIError{Status: 500, Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}
