package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/types"
	"github.com/fablecore/chronicle/internal/vector"
)

type mockStore struct {
	entry      *types.LoreEntry
	note       *types.SessionNote
	noteErr    error
	statusSet  types.IndexStatus
	statusID   string
	statusErr  error
	entryErr   error
	statusCall int
}

func (m *mockStore) GetLoreEntry(ctx context.Context, id string) (*types.LoreEntry, error) {
	if m.entryErr != nil {
		return nil, m.entryErr
	}
	return m.entry, nil
}

func (m *mockStore) GetLatestSessionNote(ctx context.Context, loreEntryID string) (*types.SessionNote, error) {
	if m.noteErr != nil {
		return nil, m.noteErr
	}
	return m.note, nil
}

func (m *mockStore) SetIndexStatus(ctx context.Context, loreEntryID string, status types.IndexStatus) error {
	m.statusCall++
	m.statusID = loreEntryID
	m.statusSet = status
	return m.statusErr
}

type mockEmbedder struct {
	vec     []float32
	err     error
	lastDoc string
}

func (m *mockEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	m.lastDoc = content
	if m.err != nil {
		return nil, m.err
	}
	return m.vec, nil
}

func (m *mockEmbedder) ModelName() string { return "mock-model" }

type mockIndex struct {
	upserts map[string]string
	err     error
}

func (m *mockIndex) Upsert(ctx context.Context, loreEntryID, document string, embedding []float32) error {
	if m.err != nil {
		return m.err
	}
	if m.upserts == nil {
		m.upserts = make(map[string]string)
	}
	m.upserts[loreEntryID] = document
	return nil
}

func (m *mockIndex) Query(ctx context.Context, embedding []float32, k int) ([]vector.Match, error) {
	return nil, nil
}

func testEntry() *types.LoreEntry {
	return &types.LoreEntry{
		ID:      "entry-1",
		WorldID: "world-1",
		Title:   "Rin",
		Content: "A masked swordsman from the eastern provinces.",
		Tags:    []string{"character", "swordsman"},
	}
}

func newTestIndexer(s *mockStore, e *mockEmbedder, idx *mockIndex) *CompositeIndexer {
	return NewCompositeIndexer(s, e, idx, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReindex_CompositeDocumentCarriesBothHalves(t *testing.T) {
	st := &mockStore{
		entry: testEntry(),
		note:  &types.SessionNote{NoteContent: "Rin lost her mask in the river."},
	}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}}
	idx := &mockIndex{}

	if err := newTestIndexer(st, emb, idx).Reindex(context.Background(), "entry-1"); err != nil {
		t.Fatal(err)
	}

	doc := idx.upserts["entry-1"]
	for _, fragment := range []string{
		"# Rin",
		"## Lore",
		"A masked swordsman from the eastern provinces.",
		"Tags: character, swordsman",
		"## Session Notes",
		"Rin lost her mask in the river.",
	} {
		if !strings.Contains(doc, fragment) {
			t.Errorf("composite document missing %q:\n%s", fragment, doc)
		}
	}
	if st.statusSet != types.IndexComplete || st.statusID != "entry-1" {
		t.Errorf("expected index marked complete for entry-1, got %s for %s", st.statusSet, st.statusID)
	}
}

func TestReindex_MissingNoteOmitsSection(t *testing.T) {
	st := &mockStore{entry: testEntry(), noteErr: store.ErrNotFound}
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{}

	if err := newTestIndexer(st, emb, idx).Reindex(context.Background(), "entry-1"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(idx.upserts["entry-1"], "## Session Notes") {
		t.Error("document for an unannotated entry should not carry a notes section")
	}
}

func TestReindex_IsDeterministic(t *testing.T) {
	st := &mockStore{
		entry: testEntry(),
		note:  &types.SessionNote{NoteContent: "Rin lost her mask."},
	}
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{}
	ci := newTestIndexer(st, emb, idx)

	if err := ci.Reindex(context.Background(), "entry-1"); err != nil {
		t.Fatal(err)
	}
	first := idx.upserts["entry-1"]
	if err := ci.Reindex(context.Background(), "entry-1"); err != nil {
		t.Fatal(err)
	}
	if idx.upserts["entry-1"] != first {
		t.Error("reindex with unchanged inputs must produce an identical document")
	}
	if len(idx.upserts) != 1 {
		t.Errorf("expected exactly one vector per entry, got %d", len(idx.upserts))
	}
}

func TestReindex_EmbedFailureLeavesStatusUntouched(t *testing.T) {
	st := &mockStore{entry: testEntry(), noteErr: store.ErrNotFound}
	emb := &mockEmbedder{err: errors.New("rate limited")}
	idx := &mockIndex{}

	err := newTestIndexer(st, emb, idx).Reindex(context.Background(), "entry-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if st.statusCall != 0 {
		t.Error("index status must not change when embedding fails")
	}
	if len(idx.upserts) != 0 {
		t.Error("no vector should be written when embedding fails")
	}
}

func TestReindex_MissingEntryFails(t *testing.T) {
	st := &mockStore{entryErr: store.ErrNotFound}
	err := newTestIndexer(st, &mockEmbedder{}, &mockIndex{}).Reindex(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
