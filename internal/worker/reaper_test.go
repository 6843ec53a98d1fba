package worker

import (
	"context"
	"testing"
	"time"
)

type mockReaperStore struct {
	noteCutoff     time.Time
	creationCutoff time.Time
	noteCalls      int
	creationCalls  int
}

func (m *mockReaperStore) ReapStaleNoteUpdates(ctx context.Context, cutoff time.Time) (int64, error) {
	m.noteCalls++
	m.noteCutoff = cutoff
	return 1, nil
}

func (m *mockReaperStore) ReapStaleEntityCreations(ctx context.Context, cutoff time.Time) (int64, error) {
	m.creationCalls++
	m.creationCutoff = cutoff
	return 0, nil
}

func TestReaper_SweepsBothQueuesWithVisibilityCutoff(t *testing.T) {
	st := &mockReaperStore{}
	r := NewTaskReaper(st, time.Minute, 10*time.Minute)

	before := time.Now().UTC()
	r.sweep(context.Background())

	if st.noteCalls != 1 || st.creationCalls != 1 {
		t.Fatalf("expected one sweep per queue, got notes=%d creations=%d", st.noteCalls, st.creationCalls)
	}

	wantCutoff := before.Add(-10 * time.Minute)
	if st.noteCutoff.Before(wantCutoff.Add(-time.Second)) || st.noteCutoff.After(wantCutoff.Add(time.Second)) {
		t.Errorf("note cutoff %v not near %v", st.noteCutoff, wantCutoff)
	}
	if !st.noteCutoff.Equal(st.creationCutoff) {
		t.Errorf("both queues should share one cutoff, got %v vs %v", st.noteCutoff, st.creationCutoff)
	}
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewTaskReaper(&mockReaperStore{}, time.Hour, time.Minute)

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
