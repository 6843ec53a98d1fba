package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fablecore/chronicle/internal/types"
	"github.com/oklog/ulid/v2"
)

// Task rows are the durable queue state. Claiming is a compare-and-set on
// status so concurrent workers never process the same task twice, and the
// note-update claim query additionally enforces the per-(session, entry)
// sequencing invariant: only the oldest non-terminal task of a pair is ever
// claimable, and never while a sibling is in_progress.

// EnqueueNoteUpdate appends a pending note-update task. This is the only
// operation the synchronous chat path performs: a single local insert, no
// model calls, no remote I/O.
func (s *SQLiteStore) EnqueueNoteUpdate(ctx context.Context, sessionID, loreEntryID, summary string) (*types.NoteUpdateTask, error) {
	now := time.Now().UTC()
	task := &types.NoteUpdateTask{
		ID:            ulid.Make().String(),
		SessionID:     sessionID,
		LoreEntryID:   loreEntryID,
		UpdateSummary: summary,
		Status:        types.TaskPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_update_tasks (id, session_id, lore_entry_id, update_summary, status, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
	`, task.ID, sessionID, loreEntryID, summary, formatTime(now), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("enqueue note update: %w", err)
	}

	return task, nil
}

// EnqueueEntityCreation appends a pending entity-creation task.
func (s *SQLiteStore) EnqueueEntityCreation(ctx context.Context, sessionID, worldID, entityType, summary string) (*types.EntityCreationTask, error) {
	now := time.Now().UTC()
	task := &types.EntityCreationTask{
		ID:              ulid.Make().String(),
		SessionID:       sessionID,
		WorldID:         worldID,
		EntityType:      entityType,
		CreationSummary: summary,
		Status:          types.TaskPending,
		NextAttemptAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_creation_tasks (id, session_id, world_id, entity_type, creation_summary, status, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?)
	`, task.ID, sessionID, worldID, entityType, summary, formatTime(now), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("enqueue entity creation: %w", err)
	}

	return task, nil
}

// ClaimNoteUpdate atomically claims the oldest eligible pending note-update
// task. A task is eligible when its backoff window has elapsed, no task for
// the same (session, entry) pair is in_progress, and no older pending task
// exists for that pair. Returns ErrNoEligibleTask when the queue is idle.
func (s *SQLiteStore) ClaimNoteUpdate(ctx context.Context) (*types.NoteUpdateTask, error) {
	now := time.Now().UTC()
	nowStr := formatTime(now)

	for {
		row := s.db.QueryRowContext(ctx, `
			SELECT t.id, t.session_id, t.lore_entry_id, t.update_summary, t.status,
			       t.retry_count, t.error_message, t.next_attempt_at, t.claimed_at, t.created_at, t.updated_at
			FROM note_update_tasks t
			WHERE t.status = 'pending'
			  AND t.next_attempt_at <= ?
			  AND NOT EXISTS (
			        SELECT 1 FROM note_update_tasks p
			        WHERE p.session_id = t.session_id
			          AND p.lore_entry_id = t.lore_entry_id
			          AND p.status = 'in_progress'
			  )
			  AND NOT EXISTS (
			        SELECT 1 FROM note_update_tasks q
			        WHERE q.session_id = t.session_id
			          AND q.lore_entry_id = t.lore_entry_id
			          AND q.status = 'pending'
			          AND q.id < t.id
			  )
			ORDER BY t.id
			LIMIT 1
		`, nowStr)

		task, err := scanNoteUpdateTask(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoEligibleTask
			}
			return nil, fmt.Errorf("select claimable note update: %w", err)
		}

		claimed, err := s.casClaim(ctx, "note_update_tasks", task.ID, nowStr)
		if err != nil {
			return nil, err
		}
		if claimed {
			task.Status = types.TaskInProgress
			task.ClaimedAt = &now
			task.UpdatedAt = now
			return task, nil
		}
		// Lost the claim race to another worker; pick the next candidate.
	}
}

// ClaimEntityCreation atomically claims the oldest eligible pending
// entity-creation task. Creations carry no cross-task ordering constraint.
func (s *SQLiteStore) ClaimEntityCreation(ctx context.Context) (*types.EntityCreationTask, error) {
	now := time.Now().UTC()
	nowStr := formatTime(now)

	for {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, session_id, world_id, entity_type, creation_summary, status,
			       created_lore_entry_id, duplicate_of_id, duplicate_similarity,
			       retry_count, error_message, next_attempt_at, claimed_at, created_at, updated_at
			FROM entity_creation_tasks
			WHERE status = 'pending' AND next_attempt_at <= ?
			ORDER BY id
			LIMIT 1
		`, nowStr)

		task, err := scanEntityCreationTask(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoEligibleTask
			}
			return nil, fmt.Errorf("select claimable entity creation: %w", err)
		}

		claimed, err := s.casClaim(ctx, "entity_creation_tasks", task.ID, nowStr)
		if err != nil {
			return nil, err
		}
		if claimed {
			task.Status = types.TaskInProgress
			task.ClaimedAt = &now
			task.UpdatedAt = now
			return task, nil
		}
	}
}

// casClaim transitions one task from pending to in_progress. Returns false
// when another worker won the race.
func (s *SQLiteStore) casClaim(ctx context.Context, table, id, nowStr string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = 'in_progress', claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, nowStr, nowStr, id)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected == 1, nil
}

// transition updates a task row guarded by its current status.
func (s *SQLiteStore) transition(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInvalidTaskState
	}
	return nil
}

// MarkNoteUpdateSucceeded moves an in_progress task to succeeded.
func (s *SQLiteStore) MarkNoteUpdateSucceeded(ctx context.Context, id string) error {
	return s.transition(ctx, `
		UPDATE note_update_tasks
		SET status = 'succeeded', error_message = '', updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, formatTime(time.Now().UTC()), id)
}

// RescheduleNoteUpdate returns an in_progress task to pending with an
// incremented retry count and a backoff deadline.
func (s *SQLiteStore) RescheduleNoteUpdate(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	return s.transition(ctx, `
		UPDATE note_update_tasks
		SET status = 'pending', retry_count = retry_count + 1, error_message = ?,
		    next_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, errMsg, formatTime(nextAttempt), formatTime(time.Now().UTC()), id)
}

// MarkNoteUpdateFailed moves an in_progress task to the terminal failed
// state. Failed tasks are never dropped; they stay visible for operators.
func (s *SQLiteStore) MarkNoteUpdateFailed(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx, `
		UPDATE note_update_tasks
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, errMsg, formatTime(time.Now().UTC()), id)
}

// CompleteEntityCreation inserts the synthesized lore entry and marks the
// task succeeded in one transaction. A creation task can never be observed
// succeeded without its entry, and no entry is visible for a non-succeeded
// task.
func (s *SQLiteStore) CompleteEntityCreation(ctx context.Context, taskID string, entry types.NewLoreEntry) (*types.LoreEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowStr := formatTime(now)

	created := types.LoreEntry{
		ID:                     ulid.Make().String(),
		WorldID:                entry.WorldID,
		Title:                  entry.Title,
		Content:                entry.Content,
		Tags:                   entry.Tags,
		IsDynamicallyGenerated: entry.IsDynamicallyGenerated,
		IndexStatus:            types.IndexPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	tagsJSON, err := marshalTags(entry.Tags)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lore_entries (id, world_id, title, content, tags, is_dynamically_generated, index_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
	`, created.ID, created.WorldID, created.Title, created.Content, tagsJSON,
		boolToInt(created.IsDynamicallyGenerated), nowStr, nowStr); err != nil {
		return nil, fmt.Errorf("insert lore entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE entity_creation_tasks
		SET status = 'succeeded', created_lore_entry_id = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, created.ID, nowStr, taskID)
	if err != nil {
		return nil, fmt.Errorf("mark task succeeded: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrInvalidTaskState
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &created, nil
}

// RescheduleEntityCreation returns an in_progress task to pending with an
// incremented retry count and a backoff deadline.
func (s *SQLiteStore) RescheduleEntityCreation(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	return s.transition(ctx, `
		UPDATE entity_creation_tasks
		SET status = 'pending', retry_count = retry_count + 1, error_message = ?,
		    next_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, errMsg, formatTime(nextAttempt), formatTime(time.Now().UTC()), id)
}

// MarkEntityCreationFailed moves an in_progress task to the terminal failed
// state without creating any lore entry.
func (s *SQLiteStore) MarkEntityCreationFailed(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx, `
		UPDATE entity_creation_tasks
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, errMsg, formatTime(time.Now().UTC()), id)
}

// RecordDuplicateCandidate annotates a creation task with the nearest
// existing entity when its draft looks like a duplicate. Advisory only;
// the pipeline never suppresses the insert.
func (s *SQLiteStore) RecordDuplicateCandidate(ctx context.Context, taskID, loreEntryID string, similarity float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE entity_creation_tasks
		SET duplicate_of_id = ?, duplicate_similarity = ?, updated_at = ?
		WHERE id = ?
	`, loreEntryID, similarity, formatTime(time.Now().UTC()), taskID)
	if err != nil {
		return fmt.Errorf("record duplicate candidate: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// GetNoteUpdateTask retrieves a note-update task by ID.
func (s *SQLiteStore) GetNoteUpdateTask(ctx context.Context, id string) (*types.NoteUpdateTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, lore_entry_id, update_summary, status,
		       retry_count, error_message, next_attempt_at, claimed_at, created_at, updated_at
		FROM note_update_tasks
		WHERE id = ?
	`, id)

	task, err := scanNoteUpdateTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan note update task: %w", err)
	}
	return task, nil
}

// GetEntityCreationTask retrieves an entity-creation task by ID.
func (s *SQLiteStore) GetEntityCreationTask(ctx context.Context, id string) (*types.EntityCreationTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, world_id, entity_type, creation_summary, status,
		       created_lore_entry_id, duplicate_of_id, duplicate_similarity,
		       retry_count, error_message, next_attempt_at, claimed_at, created_at, updated_at
		FROM entity_creation_tasks
		WHERE id = ?
	`, id)

	task, err := scanEntityCreationTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan entity creation task: %w", err)
	}
	return task, nil
}

// ListNoteUpdateTasks lists note-update tasks, newest first. Empty sessionID
// or status matches everything.
func (s *SQLiteStore) ListNoteUpdateTasks(ctx context.Context, sessionID string, status types.TaskStatus) ([]types.NoteUpdateTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, lore_entry_id, update_summary, status,
		       retry_count, error_message, next_attempt_at, claimed_at, created_at, updated_at
		FROM note_update_tasks
		WHERE (? = '' OR session_id = ?) AND (? = '' OR status = ?)
		ORDER BY id DESC
	`, sessionID, sessionID, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("query note update tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.NoteUpdateTask
	for rows.Next() {
		task, err := scanNoteUpdateTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note update task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

// ListEntityCreationTasks lists entity-creation tasks, newest first.
func (s *SQLiteStore) ListEntityCreationTasks(ctx context.Context, sessionID string, status types.TaskStatus) ([]types.EntityCreationTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, world_id, entity_type, creation_summary, status,
		       created_lore_entry_id, duplicate_of_id, duplicate_similarity,
		       retry_count, error_message, next_attempt_at, claimed_at, created_at, updated_at
		FROM entity_creation_tasks
		WHERE (? = '' OR session_id = ?) AND (? = '' OR status = ?)
		ORDER BY id DESC
	`, sessionID, sessionID, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("query entity creation tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.EntityCreationTask
	for rows.Next() {
		task, err := scanEntityCreationTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity creation task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

// RetryNoteUpdateTask requeues a failed task with a fresh retry budget.
// Manual operator action; only valid from the failed state.
func (s *SQLiteStore) RetryNoteUpdateTask(ctx context.Context, id string) error {
	if _, err := s.GetNoteUpdateTask(ctx, id); err != nil {
		return err
	}
	return s.transition(ctx, `
		UPDATE note_update_tasks
		SET status = 'pending', retry_count = 0, next_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'
	`, formatTime(time.Now().UTC()), formatTime(time.Now().UTC()), id)
}

// RetryEntityCreationTask requeues a failed task with a fresh retry budget.
func (s *SQLiteStore) RetryEntityCreationTask(ctx context.Context, id string) error {
	if _, err := s.GetEntityCreationTask(ctx, id); err != nil {
		return err
	}
	return s.transition(ctx, `
		UPDATE entity_creation_tasks
		SET status = 'pending', retry_count = 0, next_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'
	`, formatTime(time.Now().UTC()), formatTime(time.Now().UTC()), id)
}

// ReapStaleNoteUpdates returns tasks claimed before the cutoff to pending.
// Covers workers that died mid-task; the claim is a visibility timeout, not
// a lease renewal.
func (s *SQLiteStore) ReapStaleNoteUpdates(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.reapStale(ctx, "note_update_tasks", cutoff)
}

// ReapStaleEntityCreations returns tasks claimed before the cutoff to pending.
func (s *SQLiteStore) ReapStaleEntityCreations(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.reapStale(ctx, "entity_creation_tasks", cutoff)
}

func (s *SQLiteStore) reapStale(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = 'pending', claimed_at = NULL, next_attempt_at = ?, updated_at = ?
		WHERE status = 'in_progress' AND claimed_at < ?
	`, formatTime(time.Now().UTC()), formatTime(time.Now().UTC()), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reap stale tasks: %w", err)
	}
	return result.RowsAffected()
}

// NoteUpdateQueueStats counts note-update tasks by status.
func (s *SQLiteStore) NoteUpdateQueueStats(ctx context.Context) (*types.QueueStats, error) {
	return s.queueStats(ctx, "note_update_tasks")
}

// EntityCreationQueueStats counts entity-creation tasks by status.
func (s *SQLiteStore) EntityCreationQueueStats(ctx context.Context) (*types.QueueStats, error) {
	return s.queueStats(ctx, "entity_creation_tasks")
}

func (s *SQLiteStore) queueStats(ctx context.Context, table string) (*types.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	var stats types.QueueStats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch types.TaskStatus(status) {
		case types.TaskPending:
			stats.Pending = count
		case types.TaskInProgress:
			stats.InProgress = count
		case types.TaskSucceeded:
			stats.Succeeded = count
		case types.TaskFailed:
			stats.Failed = count
		}
	}

	return &stats, rows.Err()
}

// --- scan helpers ---

func scanNoteUpdateTask(scanner interface{ Scan(...any) error }) (*types.NoteUpdateTask, error) {
	var task types.NoteUpdateTask
	var nextAttempt, createdAt, updatedAt string
	var claimedAt sql.NullString

	err := scanner.Scan(
		&task.ID,
		&task.SessionID,
		&task.LoreEntryID,
		&task.UpdateSummary,
		&task.Status,
		&task.RetryCount,
		&task.ErrorMessage,
		&nextAttempt,
		&claimedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.NextAttemptAt = parseTime(nextAttempt)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	if claimedAt.Valid {
		t := parseTime(claimedAt.String)
		task.ClaimedAt = &t
	}

	return &task, nil
}

func scanEntityCreationTask(scanner interface{ Scan(...any) error }) (*types.EntityCreationTask, error) {
	var task types.EntityCreationTask
	var nextAttempt, createdAt, updatedAt string
	var claimedAt, createdEntryID, duplicateOfID sql.NullString
	var duplicateSimilarity sql.NullFloat64

	err := scanner.Scan(
		&task.ID,
		&task.SessionID,
		&task.WorldID,
		&task.EntityType,
		&task.CreationSummary,
		&task.Status,
		&createdEntryID,
		&duplicateOfID,
		&duplicateSimilarity,
		&task.RetryCount,
		&task.ErrorMessage,
		&nextAttempt,
		&claimedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.NextAttemptAt = parseTime(nextAttempt)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	if claimedAt.Valid {
		t := parseTime(claimedAt.String)
		task.ClaimedAt = &t
	}
	if createdEntryID.Valid {
		task.CreatedLoreEntryID = &createdEntryID.String
	}
	if duplicateOfID.Valid {
		task.DuplicateOfID = &duplicateOfID.String
	}
	if duplicateSimilarity.Valid {
		task.DuplicateSimilarity = &duplicateSimilarity.Float64
	}

	return &task, nil
}
