package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/fablecore/chronicle/internal/types"
)

type enqueued struct {
	kind    string
	payload string
}

type mockQueues struct {
	calls    []enqueued
	noteErr  error
	createN  int
	noteN    int
	createOn int // fail on this creation call (1-based), 0 = never
}

func (m *mockQueues) EnqueueNoteUpdate(ctx context.Context, sessionID, loreEntryID, summary string) (*types.NoteUpdateTask, error) {
	if m.noteErr != nil {
		return nil, m.noteErr
	}
	m.noteN++
	m.calls = append(m.calls, enqueued{"note", loreEntryID})
	return &types.NoteUpdateTask{ID: fmt.Sprintf("note-%d", m.noteN)}, nil
}

func (m *mockQueues) EnqueueEntityCreation(ctx context.Context, sessionID, worldID, entityType, summary string) (*types.EntityCreationTask, error) {
	m.createN++
	if m.createOn != 0 && m.createN == m.createOn {
		return nil, errors.New("disk full")
	}
	m.calls = append(m.calls, enqueued{"create", entityType})
	return &types.EntityCreationTask{ID: fmt.Sprintf("create-%d", m.createN)}, nil
}

func newTestDispatcher(q *mockQueues) *Dispatcher {
	return NewDispatcher(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatch_PreservesAnalysisOrder(t *testing.T) {
	q := &mockQueues{}
	resp, err := newTestDispatcher(q).Dispatch(context.Background(), "sess-1", "world-1", types.TurnAnalysis{
		Updates: []types.UpdateIntention{
			{LoreEntryID: "entry-1", UpdateSummary: "a"},
			{LoreEntryID: "entry-2", UpdateSummary: "b"},
		},
		Creations: []types.CreationIntention{
			{EntityType: "Character", CreationSummary: "c"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []enqueued{{"note", "entry-1"}, {"note", "entry-2"}, {"create", "Character"}}
	if len(q.calls) != len(want) {
		t.Fatalf("expected %d enqueues, got %d", len(want), len(q.calls))
	}
	for i, w := range want {
		if q.calls[i] != w {
			t.Errorf("call %d: expected %+v, got %+v", i, w, q.calls[i])
		}
	}
	if len(resp.NoteUpdateTaskIDs) != 2 || len(resp.EntityCreationTaskIDs) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDispatch_EmptyAnalysisEnqueuesNothing(t *testing.T) {
	q := &mockQueues{}
	resp, err := newTestDispatcher(q).Dispatch(context.Background(), "sess-1", "world-1", types.TurnAnalysis{})
	if err != nil {
		t.Fatal(err)
	}
	if len(q.calls) != 0 {
		t.Errorf("expected no enqueues, got %d", len(q.calls))
	}
	if len(resp.NoteUpdateTaskIDs) != 0 || len(resp.EntityCreationTaskIDs) != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDispatch_PartialFailureReportsEnqueuedTasks(t *testing.T) {
	q := &mockQueues{createOn: 2}
	resp, err := newTestDispatcher(q).Dispatch(context.Background(), "sess-1", "world-1", types.TurnAnalysis{
		Updates: []types.UpdateIntention{{LoreEntryID: "entry-1", UpdateSummary: "a"}},
		Creations: []types.CreationIntention{
			{EntityType: "Character", CreationSummary: "c"},
			{EntityType: "Location", CreationSummary: "d"},
		},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(resp.NoteUpdateTaskIDs) != 1 || len(resp.EntityCreationTaskIDs) != 1 {
		t.Errorf("partial response should list tasks enqueued before the failure: %+v", resp)
	}
}
