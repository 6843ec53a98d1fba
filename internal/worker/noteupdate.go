// Package worker holds the background loops that drain the maintenance
// queues and keep the vector index converged with the repository.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/synthesis"
	"github.com/fablecore/chronicle/internal/types"
)

// Reindexer rebuilds the composite vector document for one lore entry.
// Implemented by indexer.CompositeIndexer.
type Reindexer interface {
	Reindex(ctx context.Context, loreEntryID string) error
}

// NoteUpdateStore defines the store operations needed by the note-update pool.
type NoteUpdateStore interface {
	ClaimNoteUpdate(ctx context.Context) (*types.NoteUpdateTask, error)
	MarkNoteUpdateSucceeded(ctx context.Context, id string) error
	RescheduleNoteUpdate(ctx context.Context, id, errMsg string, nextAttempt time.Time) error
	MarkNoteUpdateFailed(ctx context.Context, id, errMsg string) error
	GetLoreEntry(ctx context.Context, id string) (*types.LoreEntry, error)
	GetSessionNote(ctx context.Context, sessionID, loreEntryID string) (*types.SessionNote, error)
	UpsertSessionNote(ctx context.Context, sessionID, loreEntryID, content string) (*types.SessionNote, error)
}

// NoteUpdatePool runs N claim loops over the note-update queue. Each loop
// claims one task at a time; the store's claim query keeps two tasks for
// the same (session, entry) pair from ever running concurrently, so the
// pool size only bounds cross-pair parallelism.
type NoteUpdatePool struct {
	store                NoteUpdateStore
	synth                synthesis.Service
	indexer              Reindexer
	workers              int
	pollInterval         time.Duration
	maxAttempts          int
	malformedMaxAttempts int
	backoffBase          time.Duration
}

// NewNoteUpdatePool creates a pool with the given concurrency and retry
// policy. malformedMaxAttempts bounds retries of malformed model output
// separately (and lower) than maxAttempts bounds transient failures.
func NewNoteUpdatePool(
	s NoteUpdateStore,
	synth synthesis.Service,
	idx Reindexer,
	workers int,
	pollInterval time.Duration,
	maxAttempts int,
	malformedMaxAttempts int,
	backoffBase time.Duration,
) *NoteUpdatePool {
	if workers <= 0 {
		workers = 1
	}
	return &NoteUpdatePool{
		store:                s,
		synth:                synth,
		indexer:              idx,
		workers:              workers,
		pollInterval:         pollInterval,
		maxAttempts:          maxAttempts,
		malformedMaxAttempts: malformedMaxAttempts,
		backoffBase:          backoffBase,
	}
}

// Run starts the claim loops and blocks until ctx is cancelled and all
// loops have drained their in-flight task.
func (p *NoteUpdatePool) Run(ctx context.Context) {
	slog.Info("worker pool started",
		"component", "worker",
		"worker", "note-update",
		"workers", p.workers,
		"poll_interval", p.pollInterval.String(),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.claimLoop(ctx)
		}()
	}
	wg.Wait()

	slog.Info("worker pool stopped",
		"component", "worker",
		"worker", "note-update",
		"reason", "context_cancelled",
	)
}

func (p *NoteUpdatePool) claimLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.store.ClaimNoteUpdate(ctx)
		switch {
		case errors.Is(err, store.ErrNoEligibleTask):
			p.idle(ctx)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.Error("claim failed",
				"component", "worker",
				"worker", "note-update",
				"error", err,
			)
			p.idle(ctx)
			continue
		}

		p.process(ctx, task)
	}
}

func (p *NoteUpdatePool) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// process runs one claimed task to a terminal or rescheduled state.
func (p *NoteUpdatePool) process(ctx context.Context, task *types.NoteUpdateTask) {
	entry, err := p.store.GetLoreEntry(ctx, task.LoreEntryID)
	if errors.Is(err, store.ErrNotFound) {
		// The referenced entity never existed or was removed; retrying
		// cannot help.
		p.fail(ctx, task, fmt.Sprintf("lore entry %s does not exist", task.LoreEntryID))
		return
	}
	if err != nil {
		p.retry(ctx, task, p.maxAttempts, fmt.Sprintf("load lore entry: %v", err))
		return
	}

	currentNote := ""
	note, err := p.store.GetSessionNote(ctx, task.SessionID, task.LoreEntryID)
	switch {
	case err == nil:
		currentNote = note.NoteContent
	case errors.Is(err, store.ErrNotFound):
		// first update for this pair; the rewrite starts from nothing
	default:
		p.retry(ctx, task, p.maxAttempts, fmt.Sprintf("load session note: %v", err))
		return
	}

	rewritten, err := p.synth.RewriteNote(ctx, synthesis.RewriteRequest{
		EntryTitle:    entry.Title,
		StaticContent: entry.Content,
		CurrentNote:   currentNote,
		UpdateSummary: task.UpdateSummary,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-call: leave the task in_progress for the reaper.
			return
		}
		budget := p.maxAttempts
		if errors.Is(err, synthesis.ErrMalformedOutput) {
			budget = p.malformedMaxAttempts
		}
		p.retry(ctx, task, budget, fmt.Sprintf("rewrite note: %v", err))
		return
	}

	if _, err := p.store.UpsertSessionNote(ctx, task.SessionID, task.LoreEntryID, rewritten); err != nil {
		p.retry(ctx, task, p.maxAttempts, fmt.Sprintf("upsert session note: %v", err))
		return
	}

	if err := p.store.MarkNoteUpdateSucceeded(ctx, task.ID); err != nil {
		slog.Error("failed to mark task succeeded",
			"component", "worker",
			"worker", "note-update",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	// Index convergence is decoupled from task success: the note is
	// committed and the entry is flagged pending, so the index retry
	// worker picks it up if this immediate attempt fails.
	if err := p.indexer.Reindex(ctx, task.LoreEntryID); err != nil {
		slog.Warn("immediate reindex failed, retry worker will converge",
			"component", "worker",
			"worker", "note-update",
			"lore_entry_id", task.LoreEntryID,
			"error", err,
		)
	}

	slog.Info("note update completed",
		"component", "worker",
		"worker", "note-update",
		"task_id", task.ID,
		"session_id", task.SessionID,
		"lore_entry_id", task.LoreEntryID,
	)
}

// retry reschedules the task with exponential backoff, or fails it
// terminally once the attempt budget is spent.
func (p *NoteUpdatePool) retry(ctx context.Context, task *types.NoteUpdateTask, budget int, errMsg string) {
	if task.RetryCount+1 >= budget {
		p.fail(ctx, task, errMsg)
		return
	}

	next := time.Now().UTC().Add(backoffDelay(p.backoffBase, task.RetryCount))
	if err := p.store.RescheduleNoteUpdate(ctx, task.ID, errMsg, next); err != nil {
		slog.Error("failed to reschedule task",
			"component", "worker",
			"worker", "note-update",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	slog.Warn("note update rescheduled",
		"component", "worker",
		"worker", "note-update",
		"task_id", task.ID,
		"retry_count", task.RetryCount+1,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", errMsg,
	)
}

func (p *NoteUpdatePool) fail(ctx context.Context, task *types.NoteUpdateTask, errMsg string) {
	if err := p.store.MarkNoteUpdateFailed(ctx, task.ID, errMsg); err != nil {
		slog.Error("failed to mark task failed",
			"component", "worker",
			"worker", "note-update",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	slog.Error("note update permanently failed",
		"component", "worker",
		"worker", "note-update",
		"task_id", task.ID,
		"session_id", task.SessionID,
		"lore_entry_id", task.LoreEntryID,
		"attempts", task.RetryCount+1,
		"error", errMsg,
	)
}
