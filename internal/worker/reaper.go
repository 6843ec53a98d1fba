package worker

import (
	"context"
	"log/slog"
	"time"
)

// ReaperStore defines the store operations needed by the task reaper.
type ReaperStore interface {
	ReapStaleNoteUpdates(ctx context.Context, cutoff time.Time) (int64, error)
	ReapStaleEntityCreations(ctx context.Context, cutoff time.Time) (int64, error)
}

// TaskReaper returns tasks stuck in_progress to pending. A task goes
// stale when the worker that claimed it died before reaching a terminal
// state; the visibility timeout bounds how long such a claim survives.
type TaskReaper struct {
	store             ReaperStore
	interval          time.Duration
	visibilityTimeout time.Duration
}

// NewTaskReaper creates a reaper with the given sweep interval and
// visibility timeout.
func NewTaskReaper(s ReaperStore, interval, visibilityTimeout time.Duration) *TaskReaper {
	return &TaskReaper{
		store:             s,
		interval:          interval,
		visibilityTimeout: visibilityTimeout,
	}
}

// Run starts the reaper loop. Blocks until ctx is cancelled.
func (r *TaskReaper) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "task-reaper",
		"interval", r.interval.String(),
		"visibility_timeout", r.visibilityTimeout.String(),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Sweep immediately on start: claims orphaned by an unclean shutdown
	// should not wait a full interval.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "task-reaper",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *TaskReaper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.visibilityTimeout)

	notes, err := r.store.ReapStaleNoteUpdates(ctx, cutoff)
	if err != nil && ctx.Err() == nil {
		slog.Error("failed to reap stale note updates",
			"component", "worker",
			"worker", "task-reaper",
			"error", err,
		)
	}

	creations, err := r.store.ReapStaleEntityCreations(ctx, cutoff)
	if err != nil && ctx.Err() == nil {
		slog.Error("failed to reap stale entity creations",
			"component", "worker",
			"worker", "task-reaper",
			"error", err,
		)
	}

	if notes > 0 || creations > 0 {
		slog.Warn("stale tasks returned to queue",
			"component", "worker",
			"worker", "task-reaper",
			"note_updates", notes,
			"entity_creations", creations,
		)
	}
}
