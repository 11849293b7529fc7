package dto

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bigkaa/govote/internal/domain/model"
)

// AnswerInput — вариант ответа во входящем запросе: строка
// ("Yes") или объект ({"id":"y","text":"Yes"}).
type AnswerInput model.Answer

// UnmarshalJSON принимает обе формы.
func (a *AnswerInput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*a = AnswerInput{Text: text}
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj model.Answer
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*a = AnswerInput(obj)
		return nil
	}
	return errors.New("вариант ответа должен быть строкой или объектом")
}

// Answers приводит входные варианты к доменной модели.
func Answers(in []AnswerInput) []model.Answer {
	if in == nil {
		return nil
	}
	out := make([]model.Answer, 0, len(in))
	for _, a := range in {
		out = append(out, model.Answer(a))
	}
	return out
}

// CreateElectionRequest — тело POST /api/v1/elections.
type CreateElectionRequest struct {
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Question       string        `json:"question"`
	Answers        []AnswerInput `json:"answers"`
	VotingMode     string        `json:"voting_mode"`
	MaxSelection   int           `json:"max_selection"`
	Eligibility    string        `json:"eligibility"`
	ScheduledStart *time.Time    `json:"scheduled_start"`
	ScheduledEnd   *time.Time    `json:"scheduled_end"`
}

// UpdateElectionRequest — тело PATCH /api/v1/elections/{id}.
type UpdateElectionRequest struct {
	Title          *string       `json:"title"`
	Description    *string       `json:"description"`
	Question       *string       `json:"question"`
	Answers        []AnswerInput `json:"answers"`
	VotingMode     *string       `json:"voting_mode"`
	MaxSelection   *int          `json:"max_selection"`
	Eligibility    *string       `json:"eligibility"`
	ScheduledStart *time.Time    `json:"scheduled_start"`
	ScheduledEnd   *time.Time    `json:"scheduled_end"`
	ClearSchedule  bool          `json:"clear_schedule"`
}

// UpdateMetadataRequest — тело PATCH /api/v1/elections/{id}/metadata.
type UpdateMetadataRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// OpenElectionRequest — тело POST /api/v1/elections/{id}/open.
type OpenElectionRequest struct {
	MemberCount int `json:"member_count"`
}

// ConfirmationRequest — тело hard-delete и reset.
type ConfirmationRequest struct {
	Confirmation string `json:"confirmation"`
}

// ElectionList — страница списка выборов.
type ElectionList struct {
	Items  []Election `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// IssuedCredential — открытый credential, возвращаемый один раз.
type IssuedCredential struct {
	Credential string    `json:"credential"`
	ElectionID string    `json:"election_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// FromIssued строит представление выданного credential.
func FromIssued(c model.IssuedCredential) IssuedCredential {
	return IssuedCredential{Credential: c.Credential, ElectionID: c.ElectionID, ExpiresAt: c.ExpiresAt}
}

// OpenElectionResponse — ответ на open.
type OpenElectionResponse struct {
	Election    Election           `json:"election"`
	Credentials []IssuedCredential `json:"credentials"`
}

// ResetResponse — ответ на reset.
type ResetResponse struct {
	Election       Election `json:"election"`
	BallotsDeleted int64    `json:"ballots_deleted"`
	TokensDeleted  int64    `json:"tokens_deleted"`
}

// TokenStats — сводка по credentials.
type TokenStats struct {
	Issued        int        `json:"issued"`
	Used          int        `json:"used"`
	Unused        int        `json:"unused"`
	Expired       int        `json:"expired"`
	Bulk          int        `json:"bulk"`
	Member        int        `json:"member"`
	FirstIssuedAt *time.Time `json:"first_issued_at,omitempty"`
	LastIssuedAt  *time.Time `json:"last_issued_at,omitempty"`
	FirstUsedAt   *time.Time `json:"first_used_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// FromTokenStats строит представление сводки.
func FromTokenStats(s model.TokenStats) TokenStats {
	return TokenStats{
		Issued:        s.Issued,
		Used:          s.Used,
		Unused:        s.Unused(),
		Expired:       s.Expired,
		Bulk:          s.Bulk,
		Member:        s.Member,
		FirstIssuedAt: s.FirstIssuedAt,
		LastIssuedAt:  s.LastIssuedAt,
		FirstUsedAt:   s.FirstUsedAt,
		LastUsedAt:    s.LastUsedAt,
	}
}

// ElectionStatus — оперативная сводка по выборам.
type ElectionStatus struct {
	Election Election   `json:"election"`
	Tokens   TokenStats `json:"tokens"`
	Ballots  int        `json:"ballots"`
	Turnout  float64    `json:"turnout"`
}

// UsageBucket — использования credentials за час.
type UsageBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// TokenDistribution — распределение выдачи и использования.
type TokenDistribution struct {
	ElectionID string        `json:"election_id"`
	Tokens     TokenStats    `json:"tokens"`
	Hourly     []UsageBucket `json:"hourly"`
}

// AuditEntry — запись журнала аудита.
type AuditEntry struct {
	ID            int64              `json:"id"`
	Action        string             `json:"action"`
	ActorID       string             `json:"actor_id"`
	ElectionID    *string            `json:"election_id,omitempty"`
	Details       model.AuditDetails `json:"details"`
	CallerIP      string             `json:"caller_ip,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	PrevHash      string             `json:"prev_hash"`
	EntryHash     string             `json:"entry_hash"`
}

// FromAuditEntry строит представление записи аудита.
func FromAuditEntry(e *model.AuditEntry) AuditEntry {
	return AuditEntry{
		ID:            e.ID,
		Action:        e.Action,
		ActorID:       e.ActorID,
		ElectionID:    e.ElectionID,
		Details:       e.Details,
		CallerIP:      e.CallerIP,
		CorrelationID: e.CorrelationID,
		CreatedAt:     e.CreatedAt,
		PrevHash:      e.PrevHash,
		EntryHash:     e.EntryHash,
	}
}

// AuditList — страница журнала аудита.
type AuditList struct {
	Items  []AuditEntry `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// AuditVerification — результат проверки хэш-цепочки.
type AuditVerification struct {
	Valid      bool      `json:"valid"`
	Entries    int       `json:"entries"`
	BrokenAt   *int64    `json:"broken_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}
