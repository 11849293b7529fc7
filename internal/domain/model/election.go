package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/rbac"
)

// ErrInvalid — нарушен инвариант доменной модели.
var ErrInvalid = errors.New("некорректные данные")

// VotingMode — режим голосования.
type VotingMode string

const (
	ModeSingleChoice VotingMode = "single_choice"
	ModeMultiChoice  VotingMode = "multi_choice"
)

// Eligibility — класс участников, допущенных к голосованию.
type Eligibility string

const (
	EligibilityMembers  Eligibility = "members"
	EligibilityAdmins   Eligibility = "admins"
	EligibilityEveryone Eligibility = "everyone"
)

// Permits проверяет, допускает ли класс участника с ролью role.
// Для everyone достаточно аутентификации.
func (e Eligibility) Permits(role string) bool {
	switch e {
	case EligibilityEveryone:
		return true
	case EligibilityMembers:
		return rbac.AtLeast(role, rbac.RoleMember)
	case EligibilityAdmins:
		return rbac.AtLeast(role, rbac.RoleAdmin)
	default:
		return false
	}
}

// Ограничения на поля выборов.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxQuestionLength    = 1000
	MaxAnswerLength      = 500
	MaxAnswers           = 50
)

// AnswerSetVersion — текущая версия документа вариантов ответа.
const AnswerSetVersion = 1

// Answer — вариант ответа.
type Answer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AnswerSet — сериализуемый документ вариантов ответа.
// Хранится в колонке elections.answers (JSONB).
type AnswerSet struct {
	Version int      `json:"version"`
	Items   []Answer `json:"items"`
}

// EncodeAnswers сериализует варианты ответа в документ текущей версии.
func EncodeAnswers(answers []Answer) ([]byte, error) {
	return json.Marshal(AnswerSet{Version: AnswerSetVersion, Items: answers})
}

// DecodeAnswers разбирает документ вариантов ответа.
// Неизвестная версия — ошибка: читать чужую схему молча нельзя.
func DecodeAnswers(data []byte) ([]Answer, error) {
	var set AnswerSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("ошибка разбора вариантов ответа: %w", err)
	}
	if set.Version != AnswerSetVersion {
		return nil, fmt.Errorf("неподдерживаемая версия вариантов ответа: %d", set.Version)
	}
	return set.Items, nil
}

// Election — выборы с одним вопросом.
// Хранится в таблице elections (Tally Service).
type Election struct {
	// ID — UUID выборов
	ID string
	// Title — название
	Title string
	// Description — описание (может быть пустым)
	Description string
	// Question — текст вопроса
	Question string
	// Answers — упорядоченные варианты ответа (не менее двух)
	Answers []Answer
	// VotingMode — single_choice или multi_choice
	VotingMode VotingMode
	// MaxSelection — максимум выбранных вариантов
	MaxSelection int
	// Eligibility — кто может получить credential
	Eligibility Eligibility
	// ScheduledStart, ScheduledEnd — информационное расписание
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	// Hidden — выборы скрыты от участников
	Hidden bool
	// Status — текущий статус жизненного цикла
	Status lifecycle.Status
	// CreatedBy — sub администратора-создателя
	CreatedBy string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
	OpenedAt    *time.Time
	ClosedAt    *time.Time
	ArchivedAt  *time.Time
	DeletedAt   *time.Time
}

// NormalizeAnswers приводит варианты ответа к каноническому виду:
// обрезает пробелы, а пустой ID заменяет текстом ответа.
func NormalizeAnswers(answers []Answer) []Answer {
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		a.ID = strings.TrimSpace(a.ID)
		a.Text = strings.TrimSpace(a.Text)
		if a.ID == "" {
			a.ID = a.Text
		}
		out = append(out, a)
	}
	return out
}

// Validate проверяет инварианты содержимого выборов.
func (e *Election) Validate() error {
	if strings.TrimSpace(e.Title) == "" || len(e.Title) > MaxTitleLength {
		return fmt.Errorf("%w: название должно быть от 1 до %d символов", ErrInvalid, MaxTitleLength)
	}
	if len(e.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: описание длиннее %d символов", ErrInvalid, MaxDescriptionLength)
	}
	if strings.TrimSpace(e.Question) == "" || len(e.Question) > MaxQuestionLength {
		return fmt.Errorf("%w: вопрос должен быть от 1 до %d символов", ErrInvalid, MaxQuestionLength)
	}
	if len(e.Answers) < 2 || len(e.Answers) > MaxAnswers {
		return fmt.Errorf("%w: вариантов ответа должно быть от 2 до %d", ErrInvalid, MaxAnswers)
	}

	ids := make(map[string]bool, len(e.Answers))
	texts := make(map[string]bool, len(e.Answers))
	for i, a := range e.Answers {
		if a.ID == "" || a.Text == "" {
			return fmt.Errorf("%w: вариант ответа %d пустой", ErrInvalid, i+1)
		}
		if len(a.Text) > MaxAnswerLength || len(a.ID) > MaxAnswerLength {
			return fmt.Errorf("%w: вариант ответа %d длиннее %d символов", ErrInvalid, i+1, MaxAnswerLength)
		}
		if ids[a.ID] {
			return fmt.Errorf("%w: повторяющийся идентификатор ответа %q", ErrInvalid, a.ID)
		}
		if texts[a.Text] {
			return fmt.Errorf("%w: повторяющийся текст ответа %q", ErrInvalid, a.Text)
		}
		ids[a.ID] = true
		texts[a.Text] = true
	}

	switch e.VotingMode {
	case ModeSingleChoice:
		if e.MaxSelection != 1 {
			return fmt.Errorf("%w: для single_choice max_selection должен быть 1", ErrInvalid)
		}
	case ModeMultiChoice:
		if e.MaxSelection < 1 || e.MaxSelection > len(e.Answers) {
			return fmt.Errorf("%w: max_selection должен быть от 1 до %d", ErrInvalid, len(e.Answers))
		}
	default:
		return fmt.Errorf("%w: неизвестный режим голосования %q", ErrInvalid, e.VotingMode)
	}

	switch e.Eligibility {
	case EligibilityMembers, EligibilityAdmins, EligibilityEveryone:
	default:
		return fmt.Errorf("%w: неизвестный класс участников %q", ErrInvalid, e.Eligibility)
	}

	if e.ScheduledStart != nil && e.ScheduledEnd != nil && !e.ScheduledEnd.After(*e.ScheduledStart) {
		return fmt.Errorf("%w: окончание должно быть позже начала", ErrInvalid)
	}
	return nil
}

// ValidateSelection проверяет выбор участника: непустой, без повторов,
// только известные варианты и не больше MaxSelection.
func (e *Election) ValidateSelection(answerIDs []string) error {
	if len(answerIDs) == 0 {
		return fmt.Errorf("%w: не выбран ни один вариант", ErrInvalid)
	}
	if len(answerIDs) > e.MaxSelection {
		return fmt.Errorf("%w: выбрано %d вариантов, допускается не более %d", ErrInvalid, len(answerIDs), e.MaxSelection)
	}

	known := make(map[string]bool, len(e.Answers))
	for _, a := range e.Answers {
		known[a.ID] = true
	}
	seen := make(map[string]bool, len(answerIDs))
	for _, id := range answerIDs {
		if !known[id] {
			return fmt.Errorf("%w: неизвестный вариант ответа %q", ErrInvalid, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: вариант %q выбран повторно", ErrInvalid, id)
		}
		seen[id] = true
	}
	return nil
}

// BulkTokenExpiry вычисляет срок действия пакетного credential, выпущенного
// в момент now. Для выборов с расписанием срок не раньше планового окончания.
// Credential участника живёт ровно TTL, см. IssuanceService.RequestToken.
func (e *Election) BulkTokenExpiry(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if e.ScheduledEnd != nil && e.ScheduledEnd.After(exp) {
		exp = *e.ScheduledEnd
	}
	return exp.UTC()
}
