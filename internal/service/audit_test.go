package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bigkaa/govote/internal/domain/auditchain"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository/memstore"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнено за отведённое время")
}

func TestAuditOutbox_RecoversFailedEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, db := memstore.NewTallyStore()
	outbox := NewAuditOutbox(store.Repos().Audit, 8, 3, time.Millisecond, testLogger())
	outbox.Start(context.Background())
	defer outbox.Stop()

	audit := NewAuditRecorder(outbox, testLogger())
	svc := NewElectionService(store, audit, nil, ElectionConfig{}, testLogger())

	db.FailAudit(2) // запись в транзакции и первая попытка outbox
	e, err := svc.Create(context.Background(), testAdmin, yesNoInput())
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(db.AuditEntries()) == 1 })

	got := db.AuditEntries()[0]
	if got.Action != model.AuditElectionCreated || got.ElectionID == nil || *got.ElectionID != e.ID {
		t.Errorf("восстановленная запись = %+v", got)
	}
	if brk := auditchain.Verify([]*model.AuditEntry{&got}); brk != nil {
		t.Errorf("цепочка нарушена: %+v", brk)
	}
}

func TestAuditOutbox_DrainOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, db := memstore.NewTallyStore()
	outbox := NewAuditOutbox(store.Repos().Audit, 8, 1, time.Hour, testLogger())

	// Очередь заполняется до запуска: drain при остановке обрабатывает остаток
	for i := 0; i < 3; i++ {
		outbox.Enqueue(newAuditEntry(testAdmin, model.AuditElectionCreated, "", nil, time.Now()))
	}
	if outbox.Pending() != 3 {
		t.Fatalf("Pending() = %d, ожидали 3", outbox.Pending())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outbox.Start(ctx)
	outbox.Stop()

	if n := len(db.AuditEntries()); n != 3 {
		t.Errorf("записано %d, ожидали 3", n)
	}
	if outbox.Pending() != 0 {
		t.Errorf("Pending() после остановки = %d", outbox.Pending())
	}
}

func TestAuditOutbox_DropsWhenFull(t *testing.T) {
	store, db := memstore.NewTallyStore()
	outbox := NewAuditOutbox(store.Repos().Audit, 1, 1, time.Millisecond, testLogger())

	outbox.Enqueue(newAuditEntry(testAdmin, model.AuditElectionCreated, "", nil, time.Now()))
	outbox.Enqueue(newAuditEntry(testAdmin, model.AuditElectionUpdated, "", nil, time.Now()))
	if outbox.Pending() != 1 {
		t.Fatalf("Pending() = %d, ожидали 1", outbox.Pending())
	}
	if db.AppendCalls() != 0 {
		t.Errorf("Append вызван до запуска outbox")
	}
}

func TestAuditOutbox_StopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	outbox := NewAuditOutbox(nil, 0, 0, 0, testLogger())
	outbox.Stop()
}

func TestNewAuditEntry_SystemActor(t *testing.T) {
	e := newAuditEntry(model.Actor{}, model.AuditTokenRegistered, "e-1", map[string]any{"source": "member"}, time.Now())
	if e.ActorID != model.SystemActor {
		t.Errorf("ActorID = %q, ожидали %q", e.ActorID, model.SystemActor)
	}
	if e.ElectionID == nil || *e.ElectionID != "e-1" {
		t.Errorf("ElectionID = %v", e.ElectionID)
	}
	if e.Details.Version != model.AuditDetailsVersion {
		t.Errorf("Details.Version = %d", e.Details.Version)
	}
}

func TestNewAuditEntry_CorrelationIDFitsColumn(t *testing.T) {
	actor := model.Actor{ID: "admin", CorrelationID: strings.Repeat("c", 100)}
	e := newAuditEntry(actor, model.AuditElectionClosed, "e-1", nil, time.Now())
	if len(e.CorrelationID) != model.MaxCorrelationIDLength {
		t.Errorf("len(CorrelationID) = %d, ожидали %d", len(e.CorrelationID), model.MaxCorrelationIDLength)
	}
}
