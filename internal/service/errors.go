// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт с существующим состоянием.
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — недостаточно прав для операции.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrConfirmationRequired — не передана фраза подтверждения.
	ErrConfirmationRequired = errors.New("требуется фраза подтверждения")
	// ErrElectionLive — операция запрещена для выборов в публичном статусе.
	ErrElectionLive = errors.New("выборы в публичном статусе")

	// ErrInvalidCredential — credential не зарегистрирован или имеет неверный формат.
	ErrInvalidCredential = errors.New("недействительный credential")
	// ErrAlreadyVoted — credential уже израсходован.
	ErrAlreadyVoted = errors.New("голос по этому credential уже подан")
	// ErrCredentialExpired — срок действия credential истёк.
	ErrCredentialExpired = errors.New("срок действия credential истёк")
	// ErrVotingNotOpen — выборы не принимают бюллетени или выдачу.
	ErrVotingNotOpen = errors.New("голосование не открыто")
	// ErrRetryLater — credential обрабатывается параллельным запросом.
	ErrRetryLater = errors.New("credential обрабатывается другим запросом, повторите позже")
	// ErrResultsNotAvailable — результаты доступны только после закрытия.
	ErrResultsNotAvailable = errors.New("результаты недоступны до закрытия выборов")

	// ErrNotEligible — участник не входит в класс допущенных.
	ErrNotEligible = errors.New("участник не допущен к голосованию")
	// ErrNoCurrentElection — нет текущих публичных выборов.
	ErrNoCurrentElection = errors.New("нет текущих выборов")
	// ErrLiveTokenExists — у участника уже есть действующий credential.
	ErrLiveTokenExists = errors.New("у участника уже есть действующий credential")
	// ErrTokenAlreadyRegistered — дайджест уже зарегистрирован в Tally Service.
	ErrTokenAlreadyRegistered = errors.New("credential уже зарегистрирован")
	// ErrTallyUnavailable — Tally Service недоступен.
	ErrTallyUnavailable = errors.New("Tally Service недоступен")
	// ErrResultsUnavailable — результаты не удалось получить от Tally Service.
	ErrResultsUnavailable = errors.New("результаты временно недоступны")

	// ErrRateLimited — превышен лимит деструктивных операций.
	ErrRateLimited = errors.New("превышен лимит операций")
)

// RateLimitError — превышение лимита с временем до сброса окна.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, повторите через %s", ErrRateLimited, e.RetryAfter)
}

// Is позволяет сопоставлять ошибку с ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
