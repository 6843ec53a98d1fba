package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablecore/chronicle/internal/types"
)

// IndexStore defines the store operations needed by the index retry worker.
type IndexStore interface {
	GetPendingIndex(ctx context.Context, limit int) ([]types.LoreEntry, error)
	SetIndexStatus(ctx context.Context, loreEntryID string, status types.IndexStatus) error
}

// IndexRetryWorker converges the vector index with the repository. Any
// entry whose committed content is newer than its indexed document is
// flagged pending in the store; this worker sweeps those flags and
// reindexes until each entry completes or exhausts its attempt budget.
type IndexRetryWorker struct {
	store       IndexStore
	indexer     Reindexer
	interval    time.Duration
	maxAttempts int
	batchSize   int
	retryCount  map[string]int // attempts per entry ID
}

// NewIndexRetryWorker creates a new index retry worker.
func NewIndexRetryWorker(
	s IndexStore,
	idx Reindexer,
	interval time.Duration,
	maxAttempts int,
	batchSize int,
) *IndexRetryWorker {
	return &IndexRetryWorker{
		store:       s,
		indexer:     idx,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		retryCount:  make(map[string]int),
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *IndexRetryWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "index-retry",
		"interval", w.interval.String(),
		"max_attempts", w.maxAttempts,
		"batch_size", w.batchSize,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start so entries left pending by a previous
	// run converge without waiting a full interval.
	w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "index-retry",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *IndexRetryWorker) processPending(ctx context.Context) {
	entries, err := w.store.GetPendingIndex(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to get pending index entries",
			"component", "worker",
			"worker", "index-retry",
			"error", err,
		)
		return
	}

	var successCount int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		if w.retryCount[entry.ID] >= w.maxAttempts {
			w.markAsFailed(ctx, entry.ID)
			continue
		}

		if err := w.indexer.Reindex(ctx, entry.ID); err != nil {
			w.retryCount[entry.ID]++
			slog.Warn("reindex failed, will retry",
				"component", "worker",
				"worker", "index-retry",
				"lore_entry_id", entry.ID,
				"attempts", w.retryCount[entry.ID],
				"error", err,
			)
			continue
		}

		delete(w.retryCount, entry.ID)
		successCount++
	}

	if successCount > 0 {
		slog.Info("converged pending index entries",
			"component", "worker",
			"worker", "index-retry",
			"count", successCount,
		)
	}
}

func (w *IndexRetryWorker) markAsFailed(ctx context.Context, id string) {
	attempts := w.retryCount[id]

	if err := w.store.SetIndexStatus(ctx, id, types.IndexFailed); err != nil {
		slog.Error("failed to mark index as failed",
			"component", "worker",
			"worker", "index-retry",
			"lore_entry_id", id,
			"error", err,
		)
		return
	}

	slog.Error("indexing permanently failed",
		"component", "worker",
		"worker", "index-retry",
		"lore_entry_id", id,
		"attempts", attempts,
	)

	delete(w.retryCount, id)
}
