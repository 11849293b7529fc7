package model

import "time"

// TokenSource — путь выдачи credential.
type TokenSource string

const (
	// SourceMember — самостоятельный запрос участника через Credential Service.
	SourceMember TokenSource = "member"
	// SourceBulk — массовая выдача при открытии выборов.
	SourceBulk TokenSource = "bulk"
)

// VotingToken — анонимная запись credential в Tally Service.
// Хранится в таблице voting_tokens. Не содержит идентичности участника.
type VotingToken struct {
	// TokenHash — SHA-256 credential в hex (первичный ключ)
	TokenHash string
	// ElectionID — UUID выборов
	ElectionID string
	// Source — путь выдачи
	Source TokenSource
	// IssuedAt — время регистрации
	IssuedAt time.Time
	// ExpiresAt — время истечения
	ExpiresAt time.Time
	// Used — credential израсходован (переход false → true однократный)
	Used bool
	// UsedAt — время использования, усечённое до минуты
	UsedAt *time.Time
}

// Expired проверяет, истёк ли credential к моменту now.
func (t *VotingToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// MemberToken — запись о выдаче credential участнику в Credential Service.
// Хранится в таблице member_tokens. Используется только для проверки
// «уже есть действующий credential» и повторной выдачи после истечения.
type MemberToken struct {
	// ID — UUID записи
	ID string
	// MemberID — sub участника из JWT
	MemberID string
	// ElectionID — UUID выборов
	ElectionID string
	// TokenHash — SHA-256 credential в hex
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Live проверяет, действует ли credential в момент now.
func (t *MemberToken) Live(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// IssuedCredential — открытый credential, возвращаемый один раз.
type IssuedCredential struct {
	Credential string
	ElectionID string
	ExpiresAt  time.Time
}

// TokenStats — сводка по credentials выборов.
type TokenStats struct {
	Issued  int
	Used    int
	Expired int
	Bulk    int
	Member  int

	FirstIssuedAt *time.Time
	LastIssuedAt  *time.Time
	FirstUsedAt   *time.Time
	LastUsedAt    *time.Time
}

// Unused возвращает число неизрасходованных credentials.
func (s TokenStats) Unused() int {
	return s.Issued - s.Used
}

// UsageBucket — число использований credentials за час.
type UsageBucket struct {
	Hour  time.Time
	Count int
}
