package store

import (
	"context"
	"errors"
	"testing"

	"github.com/fablecore/chronicle/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsertEntry(t *testing.T, s *SQLiteStore, title, content string) *types.LoreEntry {
	t.Helper()
	entry, err := s.InsertLoreEntry(context.Background(), types.NewLoreEntry{
		WorldID: "world_1",
		Title:   title,
		Content: content,
		Tags:    []string{"character"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return entry
}

func TestStore_NewSQLiteStore(t *testing.T) {
	newTestStore(t)
}

func TestStore_InsertAndGetLoreEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := mustInsertEntry(t, s, "Rin", "A masked swordsman.")
	if entry.ID == "" {
		t.Fatal("expected generated ID")
	}
	if entry.IndexStatus != types.IndexPending {
		t.Errorf("expected new entry index status pending, got %s", entry.IndexStatus)
	}

	got, err := s.GetLoreEntry(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Rin" || got.Content != "A masked swordsman." {
		t.Errorf("unexpected entry: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "character" {
		t.Errorf("unexpected tags: %v", got.Tags)
	}
}

func TestStore_GetLoreEntry_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLoreEntry(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CountEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0 entries, got %d", count)
	}

	mustInsertEntry(t, s, "Rin", "content")
	mustInsertEntry(t, s, "Kael", "content")

	count, err = s.CountEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 entries, got %d", count)
	}
}

func TestStore_ListEntryRefs(t *testing.T) {
	s := newTestStore(t)

	mustInsertEntry(t, s, "Rin", "content")
	mustInsertEntry(t, s, "Kael", "content")

	refs, err := s.ListEntryRefs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	// Newest first: ULIDs are lexicographically ordered by creation time.
	if refs[0].Title != "Kael" {
		t.Errorf("expected newest entry first, got %s", refs[0].Title)
	}
}

func TestStore_UpsertSessionNote_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := mustInsertEntry(t, s, "Rin", "content")

	note, err := s.UpsertSessionNote(ctx, "sess_1", entry.ID, "Rin gained fire immunity.")
	if err != nil {
		t.Fatal(err)
	}
	if note.LastUpdatedTurn != 1 {
		t.Errorf("expected turn 1 on insert, got %d", note.LastUpdatedTurn)
	}

	note, err = s.UpsertSessionNote(ctx, "sess_1", entry.ID, "Rin gained fire immunity and lost her mask.")
	if err != nil {
		t.Fatal(err)
	}
	if note.LastUpdatedTurn != 2 {
		t.Errorf("expected turn 2 after update, got %d", note.LastUpdatedTurn)
	}

	got, err := s.GetSessionNote(ctx, "sess_1", entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NoteContent != "Rin gained fire immunity and lost her mask." {
		t.Errorf("note content not replaced: %q", got.NoteContent)
	}
	if got.ID != note.ID {
		t.Error("update should mutate the existing note row, not create another")
	}
}

func TestStore_UpsertSessionNote_MarksIndexPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := mustInsertEntry(t, s, "Rin", "content")
	if err := s.SetIndexStatus(ctx, entry.ID, types.IndexComplete); err != nil {
		t.Fatal(err)
	}

	if _, err := s.UpsertSessionNote(ctx, "sess_1", entry.ID, "new fact"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLoreEntry(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IndexStatus != types.IndexPending {
		t.Errorf("expected index status pending after note write, got %s", got.IndexStatus)
	}
}

func TestStore_UpsertSessionNote_MissingEntry(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertSessionNote(context.Background(), "sess_1", "missing", "content")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing entry, got %v", err)
	}
}

func TestStore_GetSessionNote_NotFound(t *testing.T) {
	s := newTestStore(t)
	entry := mustInsertEntry(t, s, "Rin", "content")

	_, err := s.GetSessionNote(context.Background(), "sess_1", entry.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetLatestSessionNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := mustInsertEntry(t, s, "Rin", "content")

	if _, err := s.UpsertSessionNote(ctx, "sess_1", entry.ID, "older"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertSessionNote(ctx, "sess_2", entry.ID, "newer"); err != nil {
		t.Fatal(err)
	}

	note, err := s.GetLatestSessionNote(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if note.SessionID != "sess_2" {
		t.Errorf("expected latest note from sess_2, got %s", note.SessionID)
	}
}

func TestStore_GetPendingIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsertEntry(t, s, "A", "content")
	b := mustInsertEntry(t, s, "B", "content")

	if err := s.SetIndexStatus(ctx, a.ID, types.IndexComplete); err != nil {
		t.Fatal(err)
	}

	pending, err := s.GetPendingIndex(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("expected only entry B pending, got %+v", pending)
	}
}

func TestStore_SetIndexStatus_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.SetIndexStatus(context.Background(), "missing", types.IndexComplete)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
