package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/repository"
)

func TestInTx_RollbackOnError(t *testing.T) {
	store, db := NewTallyStore()
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := store.InTx(ctx, func(r repository.TallyRepos) error {
		if err := r.Elections.Create(ctx, &model.Election{ID: "e-1", Title: "Бюджет", Status: lifecycle.StatusDraft}); err != nil {
			return err
		}
		if err := r.Audit.Append(ctx, &model.AuditEntry{Action: model.AuditElectionCreated, ActorID: "admin"}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("InTx() = %v, ожидали errBoom", err)
	}
	if _, err := store.Repos().Elections.GetByID(ctx, "e-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("выборы не откатились: %v", err)
	}
	if n := len(db.AuditEntries()); n != 0 {
		t.Errorf("аудит не откатился: %d записей", n)
	}
}

func TestElectionFilter(t *testing.T) {
	store, _ := NewTallyStore()
	ctx := context.Background()
	repo := store.Repos().Elections

	for _, e := range []model.Election{
		{ID: "e-1", Title: "Бюджет 2027", Status: lifecycle.StatusDraft, CreatedBy: "a"},
		{ID: "e-2", Title: "Устав", Status: lifecycle.StatusOpen, Hidden: true, CreatedBy: "b"},
		{ID: "e-3", Title: "Старый бюджет", Status: lifecycle.StatusDeleted, CreatedBy: "a"},
	} {
		if err := repo.Create(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}

	hidden := true
	author := "a"
	tests := []struct {
		name string
		f    repository.ElectionFilter
		want int
	}{
		{"по умолчанию без удалённых", repository.ElectionFilter{}, 2},
		{"с удалёнными", repository.ElectionFilter{IncludeDeleted: true}, 3},
		{"по статусу", repository.ElectionFilter{Statuses: []lifecycle.Status{lifecycle.StatusDeleted}}, 1},
		{"скрытые", repository.ElectionFilter{Hidden: &hidden}, 1},
		{"по автору", repository.ElectionFilter{CreatedBy: &author, IncludeDeleted: true}, 2},
		{"поиск без учёта регистра", repository.ElectionFilter{Search: "БЮДЖЕТ", IncludeDeleted: true}, 2},
		{"limit", repository.ElectionFilter{IncludeDeleted: true, Limit: 1}, 1},
		{"offset за пределами", repository.ElectionFilter{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := repo.List(ctx, tt.f)
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != tt.want {
				t.Errorf("List() вернул %d, ожидали %d", len(items), tt.want)
			}
		})
	}
}

func TestAuditAppend_FailAudit(t *testing.T) {
	store, db := NewTallyStore()
	ctx := context.Background()
	audit := store.Repos().Audit

	db.FailAudit(1)
	if err := audit.Append(ctx, &model.AuditEntry{Action: model.AuditElectionCreated}); !errors.Is(err, ErrAuditDown) {
		t.Fatalf("Append() = %v, ожидали ErrAuditDown", err)
	}
	if err := audit.Append(ctx, &model.AuditEntry{Action: model.AuditElectionCreated}); err != nil {
		t.Fatalf("Append() после сбоя: %v", err)
	}
	if db.AppendCalls() != 2 || len(db.AuditEntries()) != 1 {
		t.Errorf("вызовов %d, записей %d", db.AppendCalls(), len(db.AuditEntries()))
	}
}
