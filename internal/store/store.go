package store

import (
	"context"
	"time"

	"github.com/fablecore/chronicle/internal/types"
)

// Store defines the contract for repository and task-queue persistence.
// The repository half is the source of truth for entity knowledge; the
// task half is the durable backing for both maintenance queues.
type Store interface {
	// Repository
	InsertLoreEntry(ctx context.Context, entry types.NewLoreEntry) (*types.LoreEntry, error)
	GetLoreEntry(ctx context.Context, id string) (*types.LoreEntry, error)
	ListEntryRefs(ctx context.Context, limit int) ([]types.EntryRef, error)
	CountEntries(ctx context.Context) (int64, error)
	GetSessionNote(ctx context.Context, sessionID, loreEntryID string) (*types.SessionNote, error)
	GetLatestSessionNote(ctx context.Context, loreEntryID string) (*types.SessionNote, error)
	UpsertSessionNote(ctx context.Context, sessionID, loreEntryID, content string) (*types.SessionNote, error)

	// Vector-index projection state
	SetIndexStatus(ctx context.Context, loreEntryID string, status types.IndexStatus) error
	GetPendingIndex(ctx context.Context, limit int) ([]types.LoreEntry, error)

	// Note-update queue
	EnqueueNoteUpdate(ctx context.Context, sessionID, loreEntryID, summary string) (*types.NoteUpdateTask, error)
	ClaimNoteUpdate(ctx context.Context) (*types.NoteUpdateTask, error)
	MarkNoteUpdateSucceeded(ctx context.Context, id string) error
	RescheduleNoteUpdate(ctx context.Context, id, errMsg string, nextAttempt time.Time) error
	MarkNoteUpdateFailed(ctx context.Context, id, errMsg string) error
	GetNoteUpdateTask(ctx context.Context, id string) (*types.NoteUpdateTask, error)
	ListNoteUpdateTasks(ctx context.Context, sessionID string, status types.TaskStatus) ([]types.NoteUpdateTask, error)
	RetryNoteUpdateTask(ctx context.Context, id string) error
	ReapStaleNoteUpdates(ctx context.Context, cutoff time.Time) (int64, error)
	NoteUpdateQueueStats(ctx context.Context) (*types.QueueStats, error)

	// Entity-creation queue
	EnqueueEntityCreation(ctx context.Context, sessionID, worldID, entityType, summary string) (*types.EntityCreationTask, error)
	ClaimEntityCreation(ctx context.Context) (*types.EntityCreationTask, error)
	CompleteEntityCreation(ctx context.Context, taskID string, entry types.NewLoreEntry) (*types.LoreEntry, error)
	RescheduleEntityCreation(ctx context.Context, id, errMsg string, nextAttempt time.Time) error
	MarkEntityCreationFailed(ctx context.Context, id, errMsg string) error
	RecordDuplicateCandidate(ctx context.Context, taskID, loreEntryID string, similarity float64) error
	GetEntityCreationTask(ctx context.Context, id string) (*types.EntityCreationTask, error)
	ListEntityCreationTasks(ctx context.Context, sessionID string, status types.TaskStatus) ([]types.EntityCreationTask, error)
	RetryEntityCreationTask(ctx context.Context, id string) error
	ReapStaleEntityCreations(ctx context.Context, cutoff time.Time) (int64, error)
	EntityCreationQueueStats(ctx context.Context) (*types.QueueStats, error)

	Close() error
}
