// Пакет tallyclient — S2S HTTP-клиент Credential Service к Tally Service.
// Аутентификация — общий секрет в заголовке X-Service-Secret.
// Операции: RegisterToken (POST /s2s/register-token),
// CurrentElection (GET /s2s/election), Results (GET /s2s/results).
package tallyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/govote/internal/api/dto"
	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/api/middleware"
	"github.com/bigkaa/govote/internal/domain/model"
)

// SecretHeader — заголовок с общим секретом S2S.
const SecretHeader = middleware.ServiceSecretHeader

// readyTimeout — таймаут проверки готовности Tally Service.
const readyTimeout = 3 * time.Second

// APIError — ответ Tally Service со статусом ошибки.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Tally Service вернул %d %s: %s", e.Status, e.Code, e.Message)
}

// Client — HTTP-клиент Tally Service.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. timeout ограничивает каждый запрос целиком.
func New(baseURL, secret string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "tally_client")),
	}
}

// BaseURL возвращает базовый URL Tally Service.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RegisterToken регистрирует дайджест credential. 201 — успех,
// прочие статусы возвращаются как *APIError.
// X-Correlation-ID запроса участника не передаётся: в аудите Tally Service
// он связал бы регистрацию дайджеста с участником.
func (c *Client) RegisterToken(ctx context.Context, tokenHash, electionID string, expiresAt time.Time) error {
	body, err := json.Marshal(dto.RegisterTokenRequest{
		TokenHash:  tokenHash,
		ElectionID: electionID,
		ExpiresAt:  expiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("сериализация запроса RegisterToken: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/s2s/register-token", bytes.NewReader(body), "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	return nil
}

// CurrentElection возвращает текущие публичные выборы.
func (c *Client) CurrentElection(ctx context.Context) (*model.Election, error) {
	resp, err := c.do(ctx, http.MethodGet, "/s2s/election", nil, middleware.CorrelationIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var e dto.PublicElection
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return nil, fmt.Errorf("декодирование CurrentElection: %w", err)
	}
	return e.Model(), nil
}

// Results возвращает итоги выборов.
func (c *Client) Results(ctx context.Context, electionID string) (*model.Results, error) {
	resp, err := c.do(ctx, http.MethodGet, "/s2s/results?election_id="+url.QueryEscape(electionID), nil,
		middleware.CorrelationIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var r dto.Results
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("декодирование Results: %w", err)
	}
	return r.Model(), nil
}

// CheckReady проверяет доступность Tally Service через /health/live.
// Используется readiness probe Credential Service: без Tally выдача
// credential невозможна.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/live", nil)
	if err != nil {
		return "fail", err.Error()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", "Tally Service недоступен: " + err.Error()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("Tally Service вернул %d", resp.StatusCode)
	}
	return "ok", ""
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, correlationID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	req.Header.Set(SecretHeader, c.secret)
	if correlationID != "" {
		req.Header.Set(apierrors.CorrelationHeader, correlationID)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("S2S-запрос к Tally Service не выполнен",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("запрос %s %s к Tally Service: %w", method, path, err)
	}
	c.logger.Debug("S2S-запрос к Tally Service",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// decodeError читает тело ошибки в формате {"error":{"code","message"}}.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}

	var body dto.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
