package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/synthesis"
	"github.com/fablecore/chronicle/internal/types"
	"github.com/fablecore/chronicle/internal/vector"
)

type mockCreationStore struct {
	claimed     []*types.EntityCreationTask
	completed   map[string]types.NewLoreEntry
	failed      map[string]string
	resched     map[string]time.Time
	dupes       map[string]string
	completeErr error
}

func newMockCreationStore() *mockCreationStore {
	return &mockCreationStore{
		completed: make(map[string]types.NewLoreEntry),
		failed:    make(map[string]string),
		resched:   make(map[string]time.Time),
		dupes:     make(map[string]string),
	}
}

func (m *mockCreationStore) ClaimEntityCreation(ctx context.Context) (*types.EntityCreationTask, error) {
	if len(m.claimed) == 0 {
		return nil, store.ErrNoEligibleTask
	}
	task := m.claimed[0]
	m.claimed = m.claimed[1:]
	return task, nil
}

func (m *mockCreationStore) CompleteEntityCreation(ctx context.Context, taskID string, entry types.NewLoreEntry) (*types.LoreEntry, error) {
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	m.completed[taskID] = entry
	return &types.LoreEntry{
		ID:                     "created-" + taskID,
		WorldID:                entry.WorldID,
		Title:                  entry.Title,
		Content:                entry.Content,
		Tags:                   entry.Tags,
		IsDynamicallyGenerated: entry.IsDynamicallyGenerated,
	}, nil
}

func (m *mockCreationStore) RescheduleEntityCreation(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	m.resched[id] = nextAttempt
	return nil
}

func (m *mockCreationStore) MarkEntityCreationFailed(ctx context.Context, id, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

func (m *mockCreationStore) RecordDuplicateCandidate(ctx context.Context, taskID, loreEntryID string, similarity float64) error {
	m.dupes[taskID] = fmt.Sprintf("%s@%.2f", loreEntryID, similarity)
	return nil
}

type mockVectorIndex struct {
	matches  []vector.Match
	queryErr error
}

func (m *mockVectorIndex) Upsert(ctx context.Context, loreEntryID, document string, embedding []float32) error {
	return nil
}

func (m *mockVectorIndex) Query(ctx context.Context, embedding []float32, k int) ([]vector.Match, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.matches, nil
}

type staticEmbedder struct {
	vec []float32
	err error
}

func (e *staticEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *staticEmbedder) ModelName() string { return "mock-model" }

func creationTask() *types.EntityCreationTask {
	return &types.EntityCreationTask{
		ID:              "task-1",
		SessionID:       "sess-1",
		WorldID:         "world-1",
		EntityType:      "Character",
		CreationSummary: "a masked swordsman named Rin appears",
		Status:          types.TaskInProgress,
	}
}

func rinDraft() *types.EntityDraft {
	return &types.EntityDraft{
		Title:   "Rin",
		Content: "A masked swordsman from the eastern provinces.",
		Tags:    []string{"swordsman"},
	}
}

func newCreationPool(s *mockCreationStore, synth *mockSynth, idx *mockReindexer, emb *staticEmbedder, vi *mockVectorIndex, dedup DedupPolicy) *EntityCreationPool {
	return NewEntityCreationPool(s, synth, emb, vi, idx, dedup, 1, time.Millisecond, 3, time.Second)
}

func TestEntityCreation_SuccessInsertsAndIndexes(t *testing.T) {
	st := newMockCreationStore()
	synth := &mockSynth{draft: rinDraft()}
	idx := &mockReindexer{}

	newCreationPool(st, synth, idx, &staticEmbedder{}, &mockVectorIndex{}, DedupPolicy{}).
		process(context.Background(), creationTask())

	entry, ok := st.completed["task-1"]
	if !ok {
		t.Fatalf("expected completion, got failed=%v resched=%v", st.failed, st.resched)
	}
	if !entry.IsDynamicallyGenerated {
		t.Error("synthesized entries must be marked dynamically generated")
	}
	if entry.WorldID != "world-1" || entry.Title != "Rin" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !slices.Contains(entry.Tags, "character") {
		t.Errorf("tags should include the lowercased entity type, got %v", entry.Tags)
	}
	if len(idx.reindexed) != 1 || idx.reindexed[0] != "created-task-1" {
		t.Errorf("expected created entry reindexed, got %v", idx.reindexed)
	}
}

func TestEntityCreation_MalformedDraftFailsWithoutEntry(t *testing.T) {
	st := newMockCreationStore()
	synth := &mockSynth{draftErr: synthesis.ErrMalformedOutput}

	newCreationPool(st, synth, &mockReindexer{}, &staticEmbedder{}, &mockVectorIndex{}, DedupPolicy{}).
		process(context.Background(), creationTask())

	if _, ok := st.failed["task-1"]; !ok {
		t.Errorf("expected terminal failure, got resched=%v", st.resched)
	}
	if len(st.completed) != 0 {
		t.Error("no lore entry may exist for a failed creation")
	}
	if len(st.resched) != 0 {
		t.Error("malformed drafts must not be retried")
	}
}

func TestEntityCreation_TransientErrorBacksOff(t *testing.T) {
	st := newMockCreationStore()
	synth := &mockSynth{draftErr: errors.New("rate limited")}

	newCreationPool(st, synth, &mockReindexer{}, &staticEmbedder{}, &mockVectorIndex{}, DedupPolicy{}).
		process(context.Background(), creationTask())

	if _, ok := st.resched["task-1"]; !ok {
		t.Errorf("expected reschedule, got failed=%v", st.failed)
	}

	task := creationTask()
	task.RetryCount = 2
	newCreationPool(st, synth, &mockReindexer{}, &staticEmbedder{}, &mockVectorIndex{}, DedupPolicy{}).
		process(context.Background(), task)
	if _, ok := st.failed["task-1"]; !ok {
		t.Error("expected terminal failure after budget exhausted")
	}
}

func TestEntityCreation_DuplicateFlaggedButStillInserted(t *testing.T) {
	st := newMockCreationStore()
	synth := &mockSynth{draft: rinDraft()}
	vi := &mockVectorIndex{matches: []vector.Match{{LoreEntryID: "entry-9", Similarity: 0.97}}}
	dedup := DedupPolicy{Enabled: true, SimilarityThreshold: 0.9}

	newCreationPool(st, synth, &mockReindexer{}, &staticEmbedder{vec: []float32{1}}, vi, dedup).
		process(context.Background(), creationTask())

	if st.dupes["task-1"] != "entry-9@0.97" {
		t.Errorf("expected duplicate candidate recorded, got %v", st.dupes)
	}
	if _, ok := st.completed["task-1"]; !ok {
		t.Error("duplicate detection must not suppress the insert")
	}
}

func TestEntityCreation_BelowThresholdNotFlagged(t *testing.T) {
	st := newMockCreationStore()
	synth := &mockSynth{draft: rinDraft()}
	vi := &mockVectorIndex{matches: []vector.Match{{LoreEntryID: "entry-9", Similarity: 0.42}}}
	dedup := DedupPolicy{Enabled: true, SimilarityThreshold: 0.9}

	newCreationPool(st, synth, &mockReindexer{}, &staticEmbedder{vec: []float32{1}}, vi, dedup).
		process(context.Background(), creationTask())

	if len(st.dupes) != 0 {
		t.Errorf("no duplicate should be flagged below threshold, got %v", st.dupes)
	}
}

func TestEntityCreation_DedupFailureIsBestEffort(t *testing.T) {
	st := newMockCreationStore()
	synth := &mockSynth{draft: rinDraft()}
	dedup := DedupPolicy{Enabled: true, SimilarityThreshold: 0.9}

	newCreationPool(st, synth, &mockReindexer{}, &staticEmbedder{err: errors.New("embed down")}, &mockVectorIndex{}, dedup).
		process(context.Background(), creationTask())

	if _, ok := st.completed["task-1"]; !ok {
		t.Errorf("a broken duplicate check must not block creation, got failed=%v resched=%v", st.failed, st.resched)
	}
}
