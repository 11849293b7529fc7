package dto

import "time"

// VoteRequest — тело POST /vote. Допускаются answer_ids или answer_id.
type VoteRequest struct {
	AnswerIDs []string `json:"answer_ids"`
	AnswerID  string   `json:"answer_id"`
}

// Selection возвращает выбранные варианты.
func (v VoteRequest) Selection() []string {
	if len(v.AnswerIDs) > 0 {
		return v.AnswerIDs
	}
	if v.AnswerID != "" {
		return []string{v.AnswerID}
	}
	return nil
}

// VoteResponse — ответ на принятый бюллетень.
type VoteResponse struct {
	BallotID    string    `json:"ballot_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MemberStatus — состояние credential участника.
type MemberStatus struct {
	Election   *PublicElection `json:"election,omitempty"`
	Eligible   bool            `json:"eligible"`
	TokenState string          `json:"token_state"`
	IssuedAt   *time.Time      `json:"issued_at,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}
