// Пакет lifecycle — конечный автомат статусов выборов.
//
// Основной путь: draft → published → open ⇄ paused → closed → archived.
// Черновик может быть мягко удалён: draft → deleted.
// Закрыть можно из published, open или paused. Обратных переходов
// (например, published → draft) нет.
//
// Автомат не хранит состояние: текущий статус живёт в БД, а переход
// проверяется под блокировкой строки выборов.
package lifecycle

import (
	"fmt"
)

// Status — статус выборов.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusOpen      Status = "open"
	StatusPaused    Status = "paused"
	StatusClosed    Status = "closed"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

// Action — действие администратора, меняющее статус.
type Action string

const (
	ActionPublish Action = "publish"
	ActionOpen    Action = "open"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionClose   Action = "close"
	ActionArchive Action = "archive"
	ActionDelete  Action = "delete"
)

// Коды ошибок переходов.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeElectionHidden    = "ELECTION_HIDDEN"
)

// transition — допустимые исходные статусы и целевой статус действия.
type transition struct {
	from []Status
	to   Status
}

// transitions — матрица допустимых переходов.
var transitions = map[Action]transition{
	ActionPublish: {from: []Status{StatusDraft}, to: StatusPublished},
	ActionOpen:    {from: []Status{StatusPublished}, to: StatusOpen},
	ActionPause:   {from: []Status{StatusOpen}, to: StatusPaused},
	ActionResume:  {from: []Status{StatusPaused}, to: StatusOpen},
	ActionClose:   {from: []Status{StatusPublished, StatusOpen, StatusPaused}, to: StatusClosed},
	ActionArchive: {from: []Status{StatusClosed}, to: StatusArchived},
	ActionDelete:  {from: []Status{StatusDraft}, to: StatusDeleted},
}

// requiresVisible — действия, запрещённые для скрытых выборов.
var requiresVisible = map[Action]bool{
	ActionPublish: true,
	ActionOpen:    true,
}

// Next возвращает статус, в который переводит действие action
// выборы в статусе current. hidden — флаг скрытия выборов.
//
// Ошибки:
//   - INVALID_TRANSITION — действие недопустимо из текущего статуса
//   - ELECTION_HIDDEN — действие требует видимых выборов
func Next(current Status, action Action, hidden bool) (Status, error) {
	t, ok := transitions[action]
	if !ok {
		return "", &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("неизвестное действие %q", action),
		}
	}

	allowed := false
	for _, s := range t.from {
		if s == current {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("действие %s недопустимо в статусе %s", action, current),
		}
	}

	if hidden && requiresVisible[action] {
		return "", &TransitionError{
			Code:    CodeElectionHidden,
			Message: fmt.Sprintf("действие %s недопустимо для скрытых выборов", action),
		}
	}

	return t.to, nil
}

// CanTransition проверяет, ведёт ли какое-либо действие из from в to.
func CanTransition(from, to Status) bool {
	for _, t := range transitions {
		if t.to != to {
			continue
		}
		for _, s := range t.from {
			if s == from {
				return true
			}
		}
	}
	return false
}

// ValidatePath проверяет, что последовательность наблюдаемых статусов —
// допустимый путь автомата. Повторы одного статуса подряд допустимы.
func ValidatePath(path []Status) error {
	for i := 1; i < len(path); i++ {
		if path[i] == path[i-1] {
			continue
		}
		if !CanTransition(path[i-1], path[i]) {
			return &TransitionError{
				Code:    CodeInvalidTransition,
				Message: fmt.Sprintf("переход %s → %s недопустим (позиция %d)", path[i-1], path[i], i),
			}
		}
	}
	return nil
}

// CanEditContent — содержимое (вопрос, ответы, режим, расписание)
// редактируется только в черновике.
func CanEditContent(s Status) bool {
	return s == StatusDraft
}

// CanEditMetadata — название и описание редактируются в любом статусе,
// кроме удалённого.
func CanEditMetadata(s Status) bool {
	return IsValid(s) && s != StatusDeleted
}

// AcceptsBallots — бюллетени принимаются только в статусе open.
func AcceptsBallots(s Status) bool {
	return s == StatusOpen
}

// AcceptsIssuance — самостоятельный запрос credential допустим
// для опубликованных и открытых выборов.
func AcceptsIssuance(s Status) bool {
	return s == StatusPublished || s == StatusOpen
}

// ResultsVisible — результаты доступны только после закрытия.
func ResultsVisible(s Status) bool {
	return s == StatusClosed || s == StatusArchived
}

// IsLive — выборы видны участникам и защищены от физического удаления.
func IsLive(s Status) bool {
	return s == StatusPublished || s == StatusOpen || s == StatusPaused
}

// IsValid проверяет, является ли статус допустимым.
func IsValid(s Status) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusOpen, StatusPaused,
		StatusClosed, StatusArchived, StatusDeleted:
		return true
	default:
		return false
	}
}

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !IsValid(st) {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: draft, published, open, paused, closed, archived, deleted", s)
	}
	return st, nil
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, ELECTION_HIDDEN)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
