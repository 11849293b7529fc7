// Пакет auditchain — хэш-цепочка журнала аудита.
//
// Каждая запись хранит хэш предыдущей (prev_hash) и собственный хэш
// (entry_hash) от prev_hash и канонических полей. Изменение, удаление
// или перестановка записей обнаруживается повторным вычислением цепочки.
package auditchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/govote/internal/domain/model"
)

// Genesis — prev_hash первой записи цепочки.
const Genesis = ""

// Hash вычисляет entry_hash записи с учётом prevHash.
// e.CreatedAt должен быть усечён до микросекунд (точность PostgreSQL).
func Hash(e *model.AuditEntry, prevHash string) (string, error) {
	details, err := e.Details.Canonical()
	if err != nil {
		return "", err
	}

	electionID := ""
	if e.ElectionID != nil {
		electionID = *e.ElectionID
	}

	var b strings.Builder
	fields := []string{
		prevHash,
		e.Action,
		e.ActorID,
		electionID,
		string(details),
		e.CallerIP,
		e.CorrelationID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		// Длина перед значением: разделитель внутри поля не сдвигает границы
		fmt.Fprintf(&b, "%d:%s", len(f), f)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Seal заполняет PrevHash и EntryHash записи.
func Seal(e *model.AuditEntry, prevHash string) error {
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	h, err := Hash(e, prevHash)
	if err != nil {
		return err
	}
	e.PrevHash = prevHash
	e.EntryHash = h
	return nil
}

// Break — обнаруженное нарушение цепочки.
type Break struct {
	// EntryID — номер записи, на которой цепочка нарушена
	EntryID int64
	// Reason — описание нарушения
	Reason string
}

// Verifier проверяет цепочку потоково, запись за записью в порядке ID.
type Verifier struct {
	prev    string
	lastID  int64
	checked int
	broken  *Break
}

// NewVerifier создаёт проверку цепочки, начинающейся с Genesis.
func NewVerifier() *Verifier {
	return &Verifier{prev: Genesis}
}

// Add проверяет очередную запись. После первого нарушения
// остальные записи игнорируются.
func (v *Verifier) Add(e *model.AuditEntry) {
	if v.broken != nil {
		return
	}
	v.checked++

	if v.checked > 1 && e.ID <= v.lastID {
		v.broken = &Break{EntryID: e.ID, Reason: fmt.Sprintf("нарушен порядок записей: %d после %d", e.ID, v.lastID)}
		return
	}
	v.lastID = e.ID

	if e.PrevHash != v.prev {
		v.broken = &Break{EntryID: e.ID, Reason: "prev_hash не совпадает с хэшем предыдущей записи"}
		return
	}

	want, err := Hash(e, e.PrevHash)
	if err != nil {
		v.broken = &Break{EntryID: e.ID, Reason: err.Error()}
		return
	}
	if want != e.EntryHash {
		v.broken = &Break{EntryID: e.ID, Reason: "entry_hash не совпадает с содержимым записи"}
		return
	}
	v.prev = e.EntryHash
}

// Checked возвращает число проверенных записей.
func (v *Verifier) Checked() int {
	return v.checked
}

// Result возвращает первое нарушение или nil, если цепочка цела.
func (v *Verifier) Result() *Break {
	return v.broken
}

// Verify проверяет срез записей, упорядоченных по ID.
func Verify(entries []*model.AuditEntry) *Break {
	v := NewVerifier()
	for _, e := range entries {
		v.Add(e)
	}
	return v.Result()
}
