package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Действия, фиксируемые в журнале аудита.
const (
	AuditElectionCreated     = "election_created"
	AuditElectionUpdated     = "election_updated"
	AuditMetadataUpdated     = "election_metadata_updated"
	AuditElectionPublished   = "election_published"
	AuditElectionOpened      = "election_opened"
	AuditElectionPaused      = "election_paused"
	AuditElectionResumed     = "election_resumed"
	AuditElectionClosed      = "election_closed"
	AuditElectionArchived    = "election_archived"
	AuditElectionHidden      = "election_hidden"
	AuditElectionUnhidden    = "election_unhidden"
	AuditElectionDeleted     = "election_deleted"
	AuditElectionHardDeleted = "election_hard_deleted"
	AuditElectionReset       = "election_reset"
	AuditTokensBulkIssued    = "tokens_bulk_issued"
	AuditTokenRegistered     = "token_registered"
	AuditTokenIssued         = "token_issued"
)

// AuditDetailsVersion — текущая версия документа деталей аудита.
const AuditDetailsVersion = 1

// AuditDetails — сериализуемый документ деталей записи аудита.
type AuditDetails struct {
	Version int            `json:"version"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewAuditDetails создаёт документ текущей версии.
func NewAuditDetails(data map[string]any) AuditDetails {
	return AuditDetails{Version: AuditDetailsVersion, Data: data}
}

// Canonical возвращает каноническую JSON-форму документа:
// ключи отсортированы, числа приведены к виду после round-trip через JSON.
// Одна и та же форма получается до записи в БД и после чтения из JSONB.
func (d AuditDetails) Canonical() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации деталей аудита: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("ошибка нормализации деталей аудита: %w", err)
	}
	return json.Marshal(generic)
}

// AuditEntry — запись журнала аудита (только добавление).
// Хранится в таблице audit_log.
type AuditEntry struct {
	// ID — монотонный номер записи
	ID int64
	// Action — код действия (AuditElection*, AuditToken*)
	Action string
	// ActorID — sub администратора или участника, "system" для сервисных действий
	ActorID string
	// ElectionID — UUID выборов (nil для действий без выборов)
	ElectionID *string
	// Details — версионированный документ деталей
	Details AuditDetails
	// CallerIP — IP-адрес инициатора
	CallerIP string
	// CorrelationID — идентификатор запроса
	CorrelationID string
	// CreatedAt — время записи (точность — микросекунды)
	CreatedAt time.Time
	// PrevHash — EntryHash предыдущей записи ("" для первой)
	PrevHash string
	// EntryHash — SHA-256 от PrevHash и канонических полей записи
	EntryHash string
}

// Actor — инициатор действия и контекст запроса.
type Actor struct {
	ID            string
	IP            string
	CorrelationID string
}

// SystemActor — инициатор для действий без пользователя.
const SystemActor = "system"

// Ширина колонок audit_log в обеих БД. Значение длиннее колонки
// не запишется ни сразу, ни из outbox.
const (
	MaxActorIDLength       = 255
	MaxCorrelationIDLength = 64
)
