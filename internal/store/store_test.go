package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/catalogops/metasync/internal/entity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return s
}

func newTag(name string) *entity.Entity {
	e := &entity.Entity{Type: entity.TypeTag, Name: name}
	e.URN = e.Key()
	e.SetDefaults()
	return e
}

func TestUpsertInsertAssignsIDAndVersion(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if e.LocalID == 0 {
		t.Error("expected LocalID to be assigned")
	}
	if e.Version != 1 {
		t.Errorf("expected version 1, got %d", e.Version)
	}
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	err := s.Upsert(&entity.Entity{Type: entity.TypeTag})
	if err == nil {
		t.Fatal("expected validation error for empty name")
	}
	if !errors.Is(err, entity.ErrValidation) {
		t.Errorf("error should wrap ErrValidation: %v", err)
	}
}

func TestUpsertUpdateBumpsVersion(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	e.Description = "Personally identifiable information"
	if err := s.Upsert(e); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if e.Version != 2 {
		t.Errorf("expected version 2 after update, got %d", e.Version)
	}

	got, err := s.GetByID(e.LocalID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Description != e.Description {
		t.Errorf("description not persisted: %q", got.Description)
	}
}

func TestUpsertStaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	stale := e.Clone()

	e.Description = "first writer"
	if err := s.Upsert(e); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	stale.Description = "second writer"
	err := s.Upsert(stale)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestUpsertMissingRowIsNotFound(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	e.LocalID = 9999
	e.Version = 1

	err := s.Upsert(e)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertDuplicateURNConflicts(t *testing.T) {
	s := newTestStore(t)

	if err := s.Upsert(newTag("PII")); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := s.Upsert(newTag("PII"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate urn, got %v", err)
	}
}

func TestUpsertAllowsEmptyURNs(t *testing.T) {
	s := newTestStore(t)

	// The unique index is partial; multiple not-yet-deployed rows without a
	// urn may coexist.
	for _, name := range []string{"one", "two"} {
		e := &entity.Entity{Type: entity.TypeTag, Name: name}
		e.SetDefaults()
		if err := s.Upsert(e); err != nil {
			t.Fatalf("insert %s failed: %v", name, err)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := s.Delete(e.LocalID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Delete(e.LocalID); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}

	if _, err := s.GetByID(e.LocalID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetByURN(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetByURN(entity.TypeTag, e.URN)
	if err != nil {
		t.Fatalf("get by urn failed: %v", err)
	}
	if got.LocalID != e.LocalID {
		t.Errorf("expected id %d, got %d", e.LocalID, got.LocalID)
	}

	if _, err := s.GetByURN(entity.TypeTag, "urn:li:tag:missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdersCaseInsensitively(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"zebra", "Apple", "mango"} {
		e := &entity.Entity{Type: entity.TypeTag, Name: name}
		e.URN = e.Key()
		e.SetDefaults()
		if err := s.Upsert(e); err != nil {
			t.Fatalf("insert %s failed: %v", name, err)
		}
	}

	got, err := s.List(entity.TypeTag, ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	want := []string{"Apple", "mango", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entities, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("position %d: expected %q, got %q", i, name, got[i].Name)
		}
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)

	synced := newTag("PII")
	synced.Status = entity.StatusSynced
	localOnly := newTag("Draft")

	for _, e := range []*entity.Entity{synced, localOnly} {
		if err := s.Upsert(e); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	got, err := s.List(entity.TypeTag, ListFilter{Status: string(entity.StatusSynced)})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "PII" {
		t.Errorf("status filter: expected [PII], got %d entities", len(got))
	}

	got, err = s.List(entity.TypeTag, ListFilter{NameContains: "raf"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Draft" {
		t.Errorf("name filter: expected [Draft], got %d entities", len(got))
	}
}

func TestListScopedByType(t *testing.T) {
	s := newTestStore(t)

	tag := newTag("PII")
	term := &entity.Entity{Type: entity.TypeGlossaryTerm, Name: "Revenue"}
	term.URN = term.Key()
	term.SetDefaults()

	for _, e := range []*entity.Entity{tag, term} {
		if err := s.Upsert(e); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	got, err := s.List(entity.TypeTag, ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].Type != entity.TypeTag {
		t.Errorf("expected only tags, got %d entities", len(got))
	}
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)

	synced := newTag("PII")
	synced.Status = entity.StatusSynced
	for _, e := range []*entity.Entity{synced, newTag("Draft"), newTag("Other")} {
		if err := s.Upsert(e); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	counts, err := s.CountByStatus(context.Background(), entity.TypeTag)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[string(entity.StatusSynced)] != 1 {
		t.Errorf("expected 1 synced, got %d", counts[string(entity.StatusSynced)])
	}
	if counts[string(entity.StatusLocalOnly)] != 2 {
		t.Errorf("expected 2 local-only, got %d", counts[string(entity.StatusLocalOnly)])
	}
}

func TestRoundTripPreservesCollections(t *testing.T) {
	s := newTestStore(t)

	e := newTag("PII")
	e.Owners = []string{"urn:li:corpuser:alice"}
	e.CustomProperties = map[string]string{"team": "governance"}
	e.Relationships = []entity.Relationship{{Type: "appliedTo", TargetURN: "urn:li:dataset:x"}}

	if err := s.Upsert(e); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetByID(e.LocalID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Owners) != 1 || got.Owners[0] != "urn:li:corpuser:alice" {
		t.Errorf("owners not preserved: %v", got.Owners)
	}
	if got.CustomProperties["team"] != "governance" {
		t.Errorf("custom properties not preserved: %v", got.CustomProperties)
	}
	if len(got.Relationships) != 1 || got.Relationships[0].TargetURN != "urn:li:dataset:x" {
		t.Errorf("relationships not preserved: %v", got.Relationships)
	}
}
