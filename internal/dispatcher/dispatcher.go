// Package dispatcher fans a turn analysis out into the two durable task
// queues. It sits on the synchronous chat path, so it only appends rows:
// no model calls, no remote I/O.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fablecore/chronicle/internal/types"
)

// Queues is the enqueue surface of the store.
type Queues interface {
	EnqueueNoteUpdate(ctx context.Context, sessionID, loreEntryID, summary string) (*types.NoteUpdateTask, error)
	EnqueueEntityCreation(ctx context.Context, sessionID, worldID, entityType, summary string) (*types.EntityCreationTask, error)
}

// Dispatcher converts analyzer intentions into pending tasks.
type Dispatcher struct {
	queues Queues
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given queues.
func NewDispatcher(q Queues, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queues: q,
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch enqueues one task per intention, preserving the analysis
// order within each list, and returns the created task ids. A failed
// enqueue aborts the batch; tasks enqueued before the failure stay
// queued and are reported in the partial response.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, worldID string, analysis types.TurnAnalysis) (*types.TurnResponse, error) {
	resp := &types.TurnResponse{}

	for _, u := range analysis.Updates {
		task, err := d.queues.EnqueueNoteUpdate(ctx, sessionID, u.LoreEntryID, u.UpdateSummary)
		if err != nil {
			return resp, fmt.Errorf("enqueue note update for %s: %w", u.LoreEntryID, err)
		}
		resp.NoteUpdateTaskIDs = append(resp.NoteUpdateTaskIDs, task.ID)
	}

	for _, c := range analysis.Creations {
		task, err := d.queues.EnqueueEntityCreation(ctx, sessionID, worldID, c.EntityType, c.CreationSummary)
		if err != nil {
			return resp, fmt.Errorf("enqueue entity creation (%s): %w", c.EntityType, err)
		}
		resp.EntityCreationTaskIDs = append(resp.EntityCreationTaskIDs, task.ID)
	}

	if len(resp.NoteUpdateTaskIDs) > 0 || len(resp.EntityCreationTaskIDs) > 0 {
		d.logger.Info("turn dispatched",
			"session_id", sessionID,
			"note_updates", len(resp.NoteUpdateTaskIDs),
			"entity_creations", len(resp.EntityCreationTaskIDs))
	}
	return resp, nil
}
