// audit.go — запись журнала аудита, outbox повторов и проверка хэш-цепочки.
//
// Запись аудита выполняется в транзакции бизнес-действия в собственной
// точке сохранения. Ошибка записи не откатывает действие: запись
// логируется, учитывается в govote_audit_write_failures_total и после
// фиксации транзакции передаётся в AuditOutbox для повторной записи.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/govote/internal/domain/auditchain"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
)

// newAuditEntry создаёт запись аудита от имени actor.
func newAuditEntry(actor model.Actor, action, electionID string, data map[string]any, now time.Time) *model.AuditEntry {
	e := &model.AuditEntry{
		Action:        action,
		ActorID:       actor.ID,
		Details:       model.NewAuditDetails(data),
		CallerIP:      actor.IP,
		CorrelationID: actor.CorrelationID,
		CreatedAt:     now,
	}
	if e.ActorID == "" {
		e.ActorID = model.SystemActor
	}
	if len(e.CorrelationID) > model.MaxCorrelationIDLength {
		e.CorrelationID = e.CorrelationID[:model.MaxCorrelationIDLength]
	}
	if electionID != "" {
		id := electionID
		e.ElectionID = &id
	}
	return e
}

// auditAttrs — атрибуты лога с полным содержимым записи.
func auditAttrs(e *model.AuditEntry) []any {
	details, _ := json.Marshal(e.Details)
	electionID := ""
	if e.ElectionID != nil {
		electionID = *e.ElectionID
	}
	return []any{
		slog.String("action", e.Action),
		slog.String("actor_id", e.ActorID),
		slog.String("election_id", electionID),
		slog.String("details", string(details)),
		slog.String("caller_ip", e.CallerIP),
		slog.String("correlation_id", e.CorrelationID),
		slog.Time("created_at", e.CreatedAt),
	}
}

// AuditRecorder добавляет записи аудита внутри транзакций сервисов.
type AuditRecorder struct {
	outbox *AuditOutbox
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditRecorder создаёт AuditRecorder. outbox может быть nil:
// тогда неудавшиеся записи только логируются.
func NewAuditRecorder(outbox *AuditOutbox, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		outbox: outbox,
		now:    time.Now,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Entry создаёт запись с текущим временем.
func (a *AuditRecorder) Entry(actor model.Actor, action, electionID string, data map[string]any) *model.AuditEntry {
	return newAuditEntry(actor, action, electionID, data, a.now())
}

// Record добавляет запись через repo (репозиторий транзакции).
// Возвращает запись, если её нужно повторить после фиксации транзакции, иначе nil.
func (a *AuditRecorder) Record(ctx context.Context, repo repository.AuditRepository, e *model.AuditEntry) *model.AuditEntry {
	if err := repo.Append(ctx, e); err != nil {
		auditWriteFailuresTotal.Inc()
		a.logger.Error("Ошибка записи аудита, запись будет повторена",
			append(auditAttrs(e), slog.String("error", err.Error()))...,
		)
		return e
	}
	return nil
}

// Retry передаёт неудавшиеся записи в outbox. nil-записи пропускаются.
// Вызывается только после успешной фиксации бизнес-транзакции.
func (a *AuditRecorder) Retry(entries ...*model.AuditEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		if a.outbox == nil {
			a.logger.Error("Запись аудита потеряна: outbox не настроен", auditAttrs(e)...)
			continue
		}
		a.outbox.Enqueue(e)
	}
}

// DefaultOutboxCapacity — ёмкость очереди outbox.
const DefaultOutboxCapacity = 1024

// maxOutboxBackoff — верхняя граница паузы между попытками.
const maxOutboxBackoff = time.Minute

// AuditOutbox — in-process очередь повторной записи аудита.
// Одна фоновая горутина записывает записи по очереди, каждую —
// не более attempts раз с экспоненциальной паузой.
type AuditOutbox struct {
	repo     repository.AuditRepository
	queue    chan *model.AuditEntry
	attempts int
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAuditOutbox создаёт outbox. repo должен работать вне транзакции.
func NewAuditOutbox(repo repository.AuditRepository, capacity, attempts int, interval time.Duration, logger *slog.Logger) *AuditOutbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &AuditOutbox{
		repo:     repo,
		queue:    make(chan *model.AuditEntry, capacity),
		attempts: attempts,
		interval: interval,
		logger:   logger.With(slog.String("component", "audit_outbox")),
	}
}

// Enqueue ставит копию записи в очередь без блокировки.
// При переполненной очереди запись отбрасывается с логом ERROR.
func (o *AuditOutbox) Enqueue(e *model.AuditEntry) {
	entry := *e
	select {
	case o.queue <- &entry:
	default:
		o.drop(&entry, fmt.Errorf("очередь outbox переполнена (%d)", cap(o.queue)))
	}
}

// Start запускает фоновую горутину outbox.
func (o *AuditOutbox) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		o.logger.Info("Outbox аудита запущен",
			slog.Int("attempts", o.attempts),
			slog.String("interval", o.interval.String()),
		)
		for {
			select {
			case <-ctx.Done():
				o.drain()
				o.logger.Info("Outbox аудита остановлен")
				return
			case e := <-o.queue:
				o.deliver(ctx, e)
			}
		}
	}()
}

// Stop останавливает горутину и ждёт завершения.
// Оставшиеся в очереди записи получают одну финальную попытку.
func (o *AuditOutbox) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.done != nil {
		<-o.done
	}
}

// Pending возвращает число записей в очереди.
func (o *AuditOutbox) Pending() int {
	return len(o.queue)
}

func (o *AuditOutbox) deliver(ctx context.Context, e *model.AuditEntry) {
	var lastErr error
	backoff := o.interval
	for attempt := 1; attempt <= o.attempts; attempt++ {
		if lastErr = o.append(ctx, e); lastErr == nil {
			auditOutboxTotal.WithLabelValues("recovered").Inc()
			o.logger.Info("Запись аудита восстановлена из outbox",
				slog.String("action", e.Action),
				slog.String("correlation_id", e.CorrelationID),
				slog.Int("attempt", attempt),
			)
			return
		}
		if attempt == o.attempts {
			break
		}

		o.logger.Warn("Повтор записи аудита не удался",
			slog.String("action", e.Action),
			slog.String("correlation_id", e.CorrelationID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			// Финальная попытка выполняется в drain
			o.requeue(e)
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, maxOutboxBackoff)
	}
	o.drop(e, lastErr)
}

// requeue возвращает запись в очередь при остановке.
func (o *AuditOutbox) requeue(e *model.AuditEntry) {
	select {
	case o.queue <- e:
	default:
		o.drop(e, fmt.Errorf("outbox остановлен, очередь переполнена"))
	}
}

// drain выполняет одну финальную попытку для каждой записи в очереди.
func (o *AuditOutbox) drain() {
	for {
		select {
		case e := <-o.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := o.append(ctx, e)
			cancel()
			if err != nil {
				o.drop(e, err)
			} else {
				auditOutboxTotal.WithLabelValues("recovered").Inc()
			}
		default:
			return
		}
	}
}

func (o *AuditOutbox) append(ctx context.Context, e *model.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return o.repo.Append(ctx, e)
}

func (o *AuditOutbox) drop(e *model.AuditEntry, err error) {
	auditOutboxTotal.WithLabelValues("dropped").Inc()
	msg := "неизвестная ошибка"
	if err != nil {
		msg = err.Error()
	}
	o.logger.Error("Запись аудита потеряна после всех попыток",
		append(auditAttrs(e), slog.String("error", msg))...,
	)
}

// AuditVerification — результат проверки хэш-цепочки журнала.
type AuditVerification struct {
	Valid      bool
	Checked    int
	Break      *auditchain.Break
	VerifiedAt time.Time
}

// AuditService — чтение и проверка журнала аудита.
type AuditService struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

// NewAuditService создаёт сервис журнала аудита.
func NewAuditService(repo repository.AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger.With(slog.String("component", "audit_service")),
	}
}

// List возвращает страницу журнала и общее число записей по фильтру.
func (s *AuditService) List(ctx context.Context, f repository.AuditFilter) ([]*model.AuditEntry, int, error) {
	entries, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("получение журнала аудита: %w", err)
	}
	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт записей аудита: %w", err)
	}
	return entries, total, nil
}

// Verify пересчитывает хэш-цепочку всего журнала.
func (s *AuditService) Verify(ctx context.Context) (*AuditVerification, error) {
	v := auditchain.NewVerifier()
	if err := s.repo.Iterate(ctx, func(e *model.AuditEntry) error {
		v.Add(e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("проверка журнала аудита: %w", err)
	}

	res := &AuditVerification{
		Checked:    v.Checked(),
		Break:      v.Result(),
		VerifiedAt: time.Now().UTC(),
	}
	res.Valid = res.Break == nil

	if res.Valid {
		s.logger.Info("Хэш-цепочка аудита цела", slog.Int("checked", res.Checked))
	} else {
		s.logger.Error("Хэш-цепочка аудита нарушена",
			slog.Int64("entry_id", res.Break.EntryID),
			slog.String("reason", res.Break.Reason),
		)
	}
	return res, nil
}
