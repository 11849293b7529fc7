// Пакет dto — JSON-представления, общие для HTTP API обоих сервисов
// и S2S-клиента Credential Service.
package dto

import (
	"time"

	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
)

// Answer — вариант ответа.
type Answer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicElection — представление выборов для участников и S2S.
type PublicElection struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Question       string     `json:"question"`
	Answers        []Answer   `json:"answers"`
	VotingMode     string     `json:"voting_mode"`
	MaxSelection   int        `json:"max_selection"`
	Eligibility    string     `json:"eligibility"`
	Status         string     `json:"status"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
}

// Election — полное представление выборов для администраторов.
type Election struct {
	PublicElection
	Hidden      bool       `json:"hidden"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// FromPublicElection строит публичное представление.
func FromPublicElection(e *model.Election) PublicElection {
	answers := make([]Answer, 0, len(e.Answers))
	for _, a := range e.Answers {
		answers = append(answers, Answer{ID: a.ID, Text: a.Text})
	}
	return PublicElection{
		ID:             e.ID,
		Title:          e.Title,
		Description:    e.Description,
		Question:       e.Question,
		Answers:        answers,
		VotingMode:     string(e.VotingMode),
		MaxSelection:   e.MaxSelection,
		Eligibility:    string(e.Eligibility),
		Status:         string(e.Status),
		ScheduledStart: e.ScheduledStart,
		ScheduledEnd:   e.ScheduledEnd,
	}
}

// FromElection строит полное представление.
func FromElection(e *model.Election) Election {
	return Election{
		PublicElection: FromPublicElection(e),
		Hidden:         e.Hidden,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		PublishedAt:    e.PublishedAt,
		OpenedAt:       e.OpenedAt,
		ClosedAt:       e.ClosedAt,
		ArchivedAt:     e.ArchivedAt,
		DeletedAt:      e.DeletedAt,
	}
}

// Model восстанавливает доменную модель из публичного представления.
func (p PublicElection) Model() *model.Election {
	answers := make([]model.Answer, 0, len(p.Answers))
	for _, a := range p.Answers {
		answers = append(answers, model.Answer{ID: a.ID, Text: a.Text})
	}
	return &model.Election{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		Question:       p.Question,
		Answers:        answers,
		VotingMode:     model.VotingMode(p.VotingMode),
		MaxSelection:   p.MaxSelection,
		Eligibility:    model.Eligibility(p.Eligibility),
		Status:         lifecycle.Status(p.Status),
		ScheduledStart: p.ScheduledStart,
		ScheduledEnd:   p.ScheduledEnd,
	}
}

// AnswerResult — итог по варианту ответа.
type AnswerResult struct {
	AnswerID   string  `json:"answer_id"`
	Text       string  `json:"text"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// Results — итоги выборов.
type Results struct {
	ElectionID        string         `json:"election_id"`
	Question          string         `json:"question"`
	VotingMode        string         `json:"voting_mode"`
	Answers           []AnswerResult `json:"answers"`
	TotalBallots      int            `json:"total_ballots"`
	TotalSelections   int            `json:"total_selections"`
	TokensIssued      int            `json:"tokens_issued"`
	ParticipationRate float64        `json:"participation_rate"`
	Winner            *AnswerResult  `json:"winner"`
	Tie               bool           `json:"tie"`
}

// FromResults строит представление итогов.
func FromResults(r *model.Results) Results {
	out := Results{
		ElectionID:        r.ElectionID,
		Question:          r.Question,
		VotingMode:        string(r.VotingMode),
		Answers:           make([]AnswerResult, 0, len(r.Answers)),
		TotalBallots:      r.TotalBallots,
		TotalSelections:   r.TotalSelections,
		TokensIssued:      r.TokensIssued,
		ParticipationRate: r.ParticipationRate,
		Tie:               r.Tie,
	}
	for _, a := range r.Answers {
		out.Answers = append(out.Answers, AnswerResult(a))
	}
	if r.Winner != nil {
		w := AnswerResult(*r.Winner)
		out.Winner = &w
	}
	return out
}

// Model восстанавливает доменную модель итогов.
func (r Results) Model() *model.Results {
	out := &model.Results{
		ElectionID:        r.ElectionID,
		Question:          r.Question,
		VotingMode:        model.VotingMode(r.VotingMode),
		Answers:           make([]model.AnswerResult, 0, len(r.Answers)),
		TotalBallots:      r.TotalBallots,
		TotalSelections:   r.TotalSelections,
		TokensIssued:      r.TokensIssued,
		ParticipationRate: r.ParticipationRate,
		Tie:               r.Tie,
	}
	for _, a := range r.Answers {
		out.Answers = append(out.Answers, model.AnswerResult(a))
	}
	if r.Winner != nil {
		w := model.AnswerResult(*r.Winner)
		out.Winner = &w
	}
	return out
}

// RegisterTokenRequest — тело POST /s2s/register-token.
type RegisterTokenRequest struct {
	TokenHash  string    `json:"token_hash"`
	ElectionID string    `json:"election_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ErrorBody — тело ответа с ошибкой.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	CorrelationID     string `json:"correlation_id,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}
