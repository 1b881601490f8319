package service

import (
	"context"
	"errors"
	"testing"
	"time"
	"tutoria-go/internal/model"
)

func newTutorInput() *model.Tutor {
	return &model.Tutor{
		Name:    "Professora Ana",
		Subject: "História",
		Persona: "Você é uma professora de história paciente.",
	}
}

func TestTutorCreatePlacesFirst(t *testing.T) {
	repo := newFakeTutorRepo(
		&model.Tutor{ID: "old1", UserID: 1, Name: "A", Subject: "Artes", Persona: "p", Position: 2},
		&model.Tutor{ID: "old2", UserID: 1, Name: "B", Subject: "Física", Persona: "p", Position: 5},
	)
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	created, err := svc.Create(1, newTutorInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("created tutor has no id")
	}
	if created.Position != 1 {
		t.Errorf("expected position 1 (min-1), got %d", created.Position)
	}

	list := svc.List(1)
	if len(list) != 3 {
		t.Fatalf("expected 3 tutors, got %d", len(list))
	}
	if list[0].ID != created.ID {
		t.Errorf("new tutor is not first in the list, got %s", list[0].ID)
	}
}

func TestTutorCreateDerivesWebSearch(t *testing.T) {
	repo := newFakeTutorRepo()
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	input := newTutorInput()
	input.WebSources = model.WebSourceList{
		{URI: "https://example.com/a", Title: "A"},
		{URI: "https://example.com/a", Title: "A duplicada"},
		{URI: "https://example.com/b", Title: "B"},
	}
	// 开关被派生覆盖，客户端传来的值不作数
	input.Tools.WebSearch = false

	created, err := svc.Create(1, input)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !created.Tools.WebSearch {
		t.Error("webSearch should be derived from the presence of sources")
	}
	if len(created.WebSources) != 2 {
		t.Errorf("expected sources deduped to 2, got %d", len(created.WebSources))
	}

	input.WebSources = nil
	input.Tools.WebSearch = true
	created, err = svc.Create(1, input)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Tools.WebSearch {
		t.Error("webSearch should be off when there are no sources")
	}
}

func TestTutorCreateValidation(t *testing.T) {
	svc := NewTutorService(newFakeTutorRepo(), newFakeConversationRepo(), NewSessionManager())

	tests := []struct {
		name   string
		mutate func(*model.Tutor)
	}{
		{"blank name", func(tu *model.Tutor) { tu.Name = "  " }},
		{"blank persona", func(tu *model.Tutor) { tu.Persona = "" }},
		{"unknown subject", func(tu *model.Tutor) { tu.Subject = "Astrologia" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := newTutorInput()
			tt.mutate(input)
			if _, err := svc.Create(1, input); !errors.Is(err, ErrInvalidTutor) {
				t.Errorf("expected ErrInvalidTutor, got %v", err)
			}
		})
	}
}

func TestTutorGetRejectsOtherOwner(t *testing.T) {
	repo := newFakeTutorRepo(&model.Tutor{ID: "t1", UserID: 2, Name: "A", Subject: "Artes", Persona: "p"})
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	if _, err := svc.Get(1, "t1"); !errors.Is(err, ErrTutorNotFound) {
		t.Errorf("expected ErrTutorNotFound for foreign tutor, got %v", err)
	}
	if _, err := svc.Get(1, "missing"); !errors.Is(err, ErrTutorNotFound) {
		t.Errorf("expected ErrTutorNotFound for missing tutor, got %v", err)
	}
}

func TestTutorUpdatePreservesIdentity(t *testing.T) {
	createdAt := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	repo := newFakeTutorRepo(&model.Tutor{
		ID: "t1", UserID: 1, Name: "A", Subject: "Artes", Persona: "p",
		Position: 4, CreatedAt: createdAt,
	})
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	input := newTutorInput()
	input.ID = "tentativa-de-troca"
	updated, err := svc.Update(1, "t1", input)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.ID != "t1" || updated.UserID != 1 {
		t.Errorf("identity not preserved: %+v", updated)
	}
	if updated.Position != 4 || !updated.CreatedAt.Equal(createdAt) {
		t.Errorf("position or creation time not preserved: %+v", updated)
	}
	if updated.Name != input.Name || updated.Subject != input.Subject {
		t.Errorf("fields not replaced: %+v", updated)
	}
}

func TestTutorDeleteErasesHistoryAndSession(t *testing.T) {
	repo := newFakeTutorRepo(&model.Tutor{ID: "t1", UserID: 1, Name: "A", Subject: "Artes", Persona: "p"})
	convRepo := newFakeConversationRepo()
	convRepo.setHistory("t1", []model.ChatMessage{{Author: model.AuthorModel, Text: "olá"}})
	sessions := NewSessionManager()
	sessions.GetOrCreate(1, "t1")

	svc := NewTutorService(repo, convRepo, sessions)
	if err := svc.Delete(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := repo.FindByID("t1"); err == nil {
		t.Error("tutor record still present after delete")
	}
	deleted := convRepo.deletedIDs()
	if len(deleted) != 1 || deleted[0] != "t1" {
		t.Errorf("history not erased, deleted=%v", deleted)
	}
	if _, ok := sessions.Get(1, "t1"); ok {
		t.Error("session still registered after delete")
	}
}

func TestImportSharedExistingOwnRecordWins(t *testing.T) {
	local := &model.Tutor{
		ID: "shared1", UserID: 1, Name: "Versão Local", Subject: "História",
		Persona: "persona local", Knowledge: "conhecimento local",
	}
	repo := newFakeTutorRepo(local)
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	incoming := newTutorInput()
	incoming.ID = "shared1"
	incoming.Name = "Versão Compartilhada"

	got, err := svc.ImportShared(1, incoming)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if got.ID != "shared1" || got.Name != "Versão Local" || got.Knowledge != "conhecimento local" {
		t.Errorf("local record should win verbatim, got %+v", got)
	}
}

func TestImportSharedNewTutorPrepends(t *testing.T) {
	repo := newFakeTutorRepo(&model.Tutor{ID: "old", UserID: 1, Name: "A", Subject: "Artes", Persona: "p", Position: 0})
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	createdAt := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	incoming := newTutorInput()
	incoming.ID = "shared1"
	incoming.CreatedAt = createdAt

	got, err := svc.ImportShared(1, incoming)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if got.ID != "shared1" {
		t.Errorf("imported tutor should keep the shared id, got %s", got.ID)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("shared creation time not preserved: %v", got.CreatedAt)
	}

	list := svc.List(1)
	if len(list) != 2 || list[0].ID != "shared1" {
		t.Errorf("imported tutor should be first in the list, got %+v", list)
	}
}

func TestImportSharedForeignIDCollisionRemints(t *testing.T) {
	repo := newFakeTutorRepo(&model.Tutor{ID: "shared1", UserID: 2, Name: "De Outro", Subject: "Artes", Persona: "p"})
	svc := NewTutorService(repo, newFakeConversationRepo(), NewSessionManager())

	incoming := newTutorInput()
	incoming.ID = "shared1"

	got, err := svc.ImportShared(1, incoming)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if got.ID == "shared1" {
		t.Error("colliding id should have been re-minted")
	}
	if got.UserID != 1 {
		t.Errorf("imported tutor should belong to the importer, got user %d", got.UserID)
	}
	// 另一个用户的记录保持不动
	other, err := repo.FindByID("shared1")
	if err != nil || other.UserID != 2 {
		t.Errorf("foreign record must be untouched: %+v err=%v", other, err)
	}
}

func TestImportSharedRejectsInvalid(t *testing.T) {
	svc := NewTutorService(newFakeTutorRepo(), newFakeConversationRepo(), NewSessionManager())

	noID := newTutorInput()
	if _, err := svc.ImportShared(1, noID); !errors.Is(err, ErrInvalidTutor) {
		t.Errorf("expected ErrInvalidTutor for missing id, got %v", err)
	}

	bad := newTutorInput()
	bad.ID = "shared1"
	bad.Subject = "Alquimia"
	if _, err := svc.ImportShared(1, bad); !errors.Is(err, ErrInvalidTutor) {
		t.Errorf("expected ErrInvalidTutor for unknown subject, got %v", err)
	}
}
