package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fablecore/chronicle/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// timeFormat is a fixed-width RFC 3339 variant. Fixed width keeps
// lexicographic string comparison equal to chronological comparison, which
// the task claim queries rely on for next_attempt_at.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore backs both the lore repository and the task queues with a
// single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	// Older rows may carry plain RFC 3339.
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// InsertLoreEntry stores a new canonical entity. The entry starts with
// index_status 'pending': the repository is ahead of the vector index until
// the composite indexer catches up.
func (s *SQLiteStore) InsertLoreEntry(ctx context.Context, entry types.NewLoreEntry) (*types.LoreEntry, error) {
	now := time.Now().UTC()
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lore_entries (id, world_id, title, content, tags, is_dynamically_generated, index_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
	`, created.ID, created.WorldID, created.Title, created.Content, tagsJSON,
		boolToInt(created.IsDynamicallyGenerated), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert lore entry: %w", err)
	}

	return &created, nil
}

// GetLoreEntry retrieves a lore entry by ID.
func (s *SQLiteStore) GetLoreEntry(ctx context.Context, id string) (*types.LoreEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, world_id, title, content, tags, is_dynamically_generated, index_status, created_at, updated_at
		FROM lore_entries
		WHERE id = ?
	`, id)

	entry, err := scanLoreEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan lore entry: %w", err)
	}

	return entry, nil
}

// ListEntryRefs returns (id, title) references for the analyzer's entity
// resolution context, newest first.
func (s *SQLiteStore) ListEntryRefs(ctx context.Context, limit int) ([]types.EntryRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title FROM lore_entries ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query entry refs: %w", err)
	}
	defer rows.Close()

	var refs []types.EntryRef
	for rows.Next() {
		var ref types.EntryRef
		if err := rows.Scan(&ref.ID, &ref.Title); err != nil {
			return nil, fmt.Errorf("scan entry ref: %w", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// CountEntries returns the number of lore entries.
func (s *SQLiteStore) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lore_entries").Scan(&count)
	return count, err
}

// GetSessionNote retrieves the note for a (session, entry) pair.
func (s *SQLiteStore) GetSessionNote(ctx context.Context, sessionID, loreEntryID string) (*types.SessionNote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, lore_entry_id, note_content, last_updated_turn, created_at, updated_at
		FROM session_notes
		WHERE session_id = ? AND lore_entry_id = ?
	`, sessionID, loreEntryID)

	return scanSessionNote(row)
}

// GetLatestSessionNote retrieves the most recently updated note for an
// entity across all sessions. The composite indexer treats this as the
// entity's current dynamic overlay.
func (s *SQLiteStore) GetLatestSessionNote(ctx context.Context, loreEntryID string) (*types.SessionNote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, lore_entry_id, note_content, last_updated_turn, created_at, updated_at
		FROM session_notes
		WHERE lore_entry_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, loreEntryID)

	return scanSessionNote(row)
}

// UpsertSessionNote inserts the note for a (session, entry) pair or replaces
// its content in place, bumping last_updated_turn. The owning entry's
// index_status is set to 'pending' in the same transaction: a committed
// note always makes the repository observably ahead of the vector index
// until the indexer converges.
func (s *SQLiteStore) UpsertSessionNote(ctx context.Context, sessionID, loreEntryID, content string) (*types.SessionNote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowStr := formatTime(now)

	row := tx.QueryRowContext(ctx, `
		SELECT id, session_id, lore_entry_id, note_content, last_updated_turn, created_at, updated_at
		FROM session_notes
		WHERE session_id = ? AND lore_entry_id = ?
	`, sessionID, loreEntryID)

	note, err := scanSessionNote(row)
	switch {
	case err == nil:
		note.NoteContent = content
		note.LastUpdatedTurn++
		note.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE session_notes
			SET note_content = ?, last_updated_turn = ?, updated_at = ?
			WHERE id = ?
		`, content, note.LastUpdatedTurn, nowStr, note.ID); err != nil {
			return nil, fmt.Errorf("update session note: %w", err)
		}
	case errors.Is(err, ErrNotFound):
		note = &types.SessionNote{
			ID:              ulid.Make().String(),
			SessionID:       sessionID,
			LoreEntryID:     loreEntryID,
			NoteContent:     content,
			LastUpdatedTurn: 1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_notes (id, session_id, lore_entry_id, note_content, last_updated_turn, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
		`, note.ID, sessionID, loreEntryID, content, nowStr, nowStr); err != nil {
			return nil, fmt.Errorf("insert session note: %w", err)
		}
	default:
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE lore_entries SET index_status = 'pending', updated_at = ? WHERE id = ?
	`, nowStr, loreEntryID)
	if err != nil {
		return nil, fmt.Errorf("mark entry index pending: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return note, nil
}

// SetIndexStatus records the vector-index projection state of an entity.
func (s *SQLiteStore) SetIndexStatus(ctx context.Context, loreEntryID string, status types.IndexStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lore_entries SET index_status = ? WHERE id = ?
	`, string(status), loreEntryID)
	if err != nil {
		return fmt.Errorf("set index status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetPendingIndex retrieves entries whose stored vector is stale, oldest
// first. Used by the index retry worker to converge the bounded lag.
func (s *SQLiteStore) GetPendingIndex(ctx context.Context, limit int) ([]types.LoreEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, world_id, title, content, tags, is_dynamically_generated, index_status, created_at, updated_at
		FROM lore_entries
		WHERE index_status = 'pending'
		ORDER BY updated_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending index: %w", err)
	}
	defer rows.Close()

	var entries []types.LoreEntry
	for rows.Next() {
		entry, err := scanLoreEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lore entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// --- scan helpers ---

func scanLoreEntry(scanner interface{ Scan(...any) error }) (*types.LoreEntry, error) {
	var entry types.LoreEntry
	var tagsJSON string
	var dynamic int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&entry.ID,
		&entry.WorldID,
		&entry.Title,
		&entry.Content,
		&tagsJSON,
		&dynamic,
		&entry.IndexStatus,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.IsDynamicallyGenerated = dynamic != 0
	entry.CreatedAt = parseTime(createdAt)
	entry.UpdatedAt = parseTime(updatedAt)

	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
			return nil, fmt.Errorf("parse tags JSON: %w", err)
		}
	}

	return &entry, nil
}

func scanSessionNote(scanner interface{ Scan(...any) error }) (*types.SessionNote, error) {
	var note types.SessionNote
	var createdAt, updatedAt string

	err := scanner.Scan(
		&note.ID,
		&note.SessionID,
		&note.LoreEntryID,
		&note.NoteContent,
		&note.LastUpdatedTurn,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session note: %w", err)
	}

	note.CreatedAt = parseTime(createdAt)
	note.UpdatedAt = parseTime(updatedAt)
	return &note, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
