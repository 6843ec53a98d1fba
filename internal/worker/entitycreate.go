package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fablecore/chronicle/internal/embedding"
	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/synthesis"
	"github.com/fablecore/chronicle/internal/types"
	"github.com/fablecore/chronicle/internal/vector"
)

// EntityCreationStore defines the store operations needed by the
// entity-creation pool.
type EntityCreationStore interface {
	ClaimEntityCreation(ctx context.Context) (*types.EntityCreationTask, error)
	CompleteEntityCreation(ctx context.Context, taskID string, entry types.NewLoreEntry) (*types.LoreEntry, error)
	RescheduleEntityCreation(ctx context.Context, id, errMsg string, nextAttempt time.Time) error
	MarkEntityCreationFailed(ctx context.Context, id, errMsg string) error
	RecordDuplicateCandidate(ctx context.Context, taskID, loreEntryID string, similarity float64) error
}

// DedupPolicy controls the advisory duplicate check run before an entity
// is inserted. Detection only flags; it never suppresses the insert.
type DedupPolicy struct {
	Enabled             bool
	SimilarityThreshold float32
}

// EntityCreationPool runs N claim loops over the entity-creation queue.
type EntityCreationPool struct {
	store        EntityCreationStore
	synth        synthesis.Service
	embedder     embedding.Embedder
	index        vector.Index
	indexer      Reindexer
	dedup        DedupPolicy
	workers      int
	pollInterval time.Duration
	maxAttempts  int
	backoffBase  time.Duration
}

// NewEntityCreationPool creates a pool with the given concurrency and
// retry policy.
func NewEntityCreationPool(
	s EntityCreationStore,
	synth synthesis.Service,
	embedder embedding.Embedder,
	index vector.Index,
	idx Reindexer,
	dedup DedupPolicy,
	workers int,
	pollInterval time.Duration,
	maxAttempts int,
	backoffBase time.Duration,
) *EntityCreationPool {
	if workers <= 0 {
		workers = 1
	}
	return &EntityCreationPool{
		store:        s,
		synth:        synth,
		embedder:     embedder,
		index:        index,
		indexer:      idx,
		dedup:        dedup,
		workers:      workers,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		backoffBase:  backoffBase,
	}
}

// Run starts the claim loops and blocks until ctx is cancelled and all
// loops have drained their in-flight task.
func (p *EntityCreationPool) Run(ctx context.Context) {
	slog.Info("worker pool started",
		"component", "worker",
		"worker", "entity-creation",
		"workers", p.workers,
		"poll_interval", p.pollInterval.String(),
		"dedup_enabled", p.dedup.Enabled,
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
		"worker", "entity-creation",
		"reason", "context_cancelled",
	)
}

func (p *EntityCreationPool) claimLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.store.ClaimEntityCreation(ctx)
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
				"worker", "entity-creation",
				"error", err,
			)
			p.idle(ctx)
			continue
		}

		p.process(ctx, task)
	}
}

func (p *EntityCreationPool) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// process runs one claimed task to a terminal or rescheduled state.
func (p *EntityCreationPool) process(ctx context.Context, task *types.EntityCreationTask) {
	draft, err := p.synth.DraftEntity(ctx, synthesis.DraftRequest{
		EntityType:      task.EntityType,
		CreationSummary: task.CreationSummary,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-call: leave the task in_progress for the reaper.
			return
		}
		if errors.Is(err, synthesis.ErrMalformedOutput) {
			// An ill-posed draft stays ill-posed; no entry may exist for
			// a failed creation.
			p.fail(ctx, task, fmt.Sprintf("draft entity: %v", err))
			return
		}
		p.retry(ctx, task, fmt.Sprintf("draft entity: %v", err))
		return
	}

	p.flagDuplicate(ctx, task, draft)

	tags := draft.Tags
	if t := strings.ToLower(strings.TrimSpace(task.EntityType)); t != "" {
		tags = appendUnique(tags, t)
	}

	entry, err := p.store.CompleteEntityCreation(ctx, task.ID, types.NewLoreEntry{
		WorldID:                task.WorldID,
		Title:                  draft.Title,
		Content:                draft.Content,
		Tags:                   tags,
		IsDynamicallyGenerated: true,
	})
	if err != nil {
		p.retry(ctx, task, fmt.Sprintf("complete entity creation: %v", err))
		return
	}

	if err := p.indexer.Reindex(ctx, entry.ID); err != nil {
		slog.Warn("immediate reindex failed, retry worker will converge",
			"component", "worker",
			"worker", "entity-creation",
			"lore_entry_id", entry.ID,
			"error", err,
		)
	}

	slog.Info("entity created",
		"component", "worker",
		"worker", "entity-creation",
		"task_id", task.ID,
		"lore_entry_id", entry.ID,
		"title", entry.Title,
	)
}

// flagDuplicate records the nearest existing entity when it is close
// enough to look like a duplicate. Best effort: a failure here is logged
// and the creation proceeds unchanged.
func (p *EntityCreationPool) flagDuplicate(ctx context.Context, task *types.EntityCreationTask, draft *types.EntityDraft) {
	if !p.dedup.Enabled {
		return
	}

	vec, err := p.embedder.Embed(ctx, draft.Title+"\n"+draft.Content)
	if err != nil {
		slog.Warn("duplicate check skipped",
			"component", "worker",
			"worker", "entity-creation",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	matches, err := p.index.Query(ctx, vec, 1)
	if err != nil || len(matches) == 0 {
		if err != nil {
			slog.Warn("duplicate check skipped",
				"component", "worker",
				"worker", "entity-creation",
				"task_id", task.ID,
				"error", err,
			)
		}
		return
	}

	best := matches[0]
	if best.Similarity < p.dedup.SimilarityThreshold {
		return
	}

	if err := p.store.RecordDuplicateCandidate(ctx, task.ID, best.LoreEntryID, float64(best.Similarity)); err != nil {
		slog.Warn("failed to record duplicate candidate",
			"component", "worker",
			"worker", "entity-creation",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	slog.Info("duplicate candidate flagged",
		"component", "worker",
		"worker", "entity-creation",
		"task_id", task.ID,
		"duplicate_of_id", best.LoreEntryID,
		"similarity", best.Similarity,
	)
}

func (p *EntityCreationPool) retry(ctx context.Context, task *types.EntityCreationTask, errMsg string) {
	if task.RetryCount+1 >= p.maxAttempts {
		p.fail(ctx, task, errMsg)
		return
	}

	next := time.Now().UTC().Add(backoffDelay(p.backoffBase, task.RetryCount))
	if err := p.store.RescheduleEntityCreation(ctx, task.ID, errMsg, next); err != nil {
		slog.Error("failed to reschedule task",
			"component", "worker",
			"worker", "entity-creation",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	slog.Warn("entity creation rescheduled",
		"component", "worker",
		"worker", "entity-creation",
		"task_id", task.ID,
		"retry_count", task.RetryCount+1,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", errMsg,
	)
}

func (p *EntityCreationPool) fail(ctx context.Context, task *types.EntityCreationTask, errMsg string) {
	if err := p.store.MarkEntityCreationFailed(ctx, task.ID, errMsg); err != nil {
		slog.Error("failed to mark task failed",
			"component", "worker",
			"worker", "entity-creation",
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	slog.Error("entity creation permanently failed",
		"component", "worker",
		"worker", "entity-creation",
		"task_id", task.ID,
		"entity_type", task.EntityType,
		"attempts", task.RetryCount+1,
		"error", errMsg,
	)
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
