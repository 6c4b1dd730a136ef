package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/vector"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "palinor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(modelName, name string) Entry {
	return Entry{
		ID:          name + "-id",
		Name:        name,
		Model:       modelName,
		Positive:    "good",
		Negative:    "evil",
		LayerIDs:    []model.LayerID{-1, 2},
		HiddenDim:   32,
		Pairs:       5,
		Path:        "/tmp/" + name + ".vec.json",
		Fingerprint: "abc123",
		CreatedAt:   time.Date(2026, 3, 14, 15, 9, 26, 535, time.UTC),
	}
}

// -----------------------------------------------------------------------------
// CRUD Tests
// -----------------------------------------------------------------------------

func TestPutGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	want := entry("m1", "kind")

	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "m1", "kind")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.ID != want.ID || got.Positive != want.Positive || got.Pairs != want.Pairs || got.Path != want.Path {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.LayerIDs) != 2 || got.LayerIDs[0] != -1 || got.LayerIDs[1] != 2 {
		t.Errorf("LayerIDs = %v", got.LayerIDs)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestPut_ReplacesSameName(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := entry("m1", "kind")
	second := entry("m1", "kind")
	second.ID = "newer"
	second.Pairs = 50

	_ = s.Put(ctx, first)
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, _ := s.List(ctx, "m1")
	if len(all) != 1 {
		t.Fatalf("got %d entries, want 1", len(all))
	}
	if all[0].ID != "newer" || all[0].Pairs != 50 {
		t.Errorf("entry not replaced: %+v", all[0])
	}
}

func TestPut_Validation(t *testing.T) {
	s := openStore(t)
	e := entry("", "kind")
	if err := s.Put(context.Background(), e); !perrors.IsCode(err, perrors.ErrValidationRequired) {
		t.Errorf("expected %s, got %v", perrors.ErrValidationRequired, err)
	}
}

func TestList_ScopedByModel(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, entry("m1", "zeal"))
	_ = s.Put(ctx, entry("m1", "calm"))
	_ = s.Put(ctx, entry("m2", "kind"))

	m1, err := s.List(ctx, "m1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(m1) != 2 || m1[0].Name != "calm" || m1[1].Name != "zeal" {
		t.Errorf("List(m1) = %+v", m1)
	}

	all, _ := s.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("List(\"\") returned %d entries", len(all))
	}

	none, err := s.List(ctx, "m3")
	if err != nil || len(none) != 0 {
		t.Errorf("List(m3) = %v, %v", none, err)
	}
}

func TestGetDelete_NotFound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "m1", "missing"); !perrors.IsCode(err, perrors.ErrVectorNotFound) {
		t.Errorf("Get: expected %s, got %v", perrors.ErrVectorNotFound, err)
	}
	if err := s.Delete(ctx, "m1", "missing"); !perrors.IsCode(err, perrors.ErrVectorNotFound) {
		t.Errorf("Delete: expected %s, got %v", perrors.ErrVectorNotFound, err)
	}

	_ = s.Put(ctx, entry("m1", "kind"))
	if err := s.Delete(ctx, "m1", "kind"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "m1", "kind"); !perrors.IsCode(err, perrors.ErrVectorNotFound) {
		t.Errorf("entry survived Delete: %v", err)
	}
}

func TestOpen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "palinor.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Put(context.Background(), entry("m1", "kind"))
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "m1", "kind"); err != nil {
		t.Errorf("entry lost after reopen: %v", err)
	}
}

func TestEntryFor(t *testing.T) {
	v, err := vector.FromDirections(map[model.LayerID][]float32{-1: {1, 2, 3}}, vector.Metadata{
		Name:   "kind",
		Model:  "m1",
		Traits: vector.Traits{Positive: "kind", Negative: "cruel"},
		Pairs:  7,
	})
	if err != nil {
		t.Fatalf("FromDirections: %v", err)
	}
	e := EntryFor(v, "/data/kind.vec.json")
	if e.ID != v.ID() || e.HiddenDim != 3 || e.Negative != "cruel" || e.Fingerprint != v.Fingerprint() {
		t.Errorf("unexpected entry %+v", e)
	}
}
