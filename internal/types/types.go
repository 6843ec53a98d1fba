package types

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a queued maintenance task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// IndexStatus represents the vector-index projection state of an entity.
type IndexStatus string

const (
	// IndexPending means the repository holds newer content than the index.
	IndexPending IndexStatus = "pending"
	// IndexComplete means the stored vector reflects the latest committed
	// composite document.
	IndexComplete IndexStatus = "complete"
	// IndexFailed means indexing exhausted its retry budget.
	IndexFailed IndexStatus = "failed"
)

// LoreEntry is the canonical, rarely-changing definition of a world entity.
type LoreEntry struct {
	ID                     string      `json:"id"`
	WorldID                string      `json:"world_id"`
	Title                  string      `json:"title"`
	Content                string      `json:"content"`
	Tags                   []string    `json:"tags"`
	IsDynamicallyGenerated bool        `json:"is_dynamically_generated"`
	IndexStatus            IndexStatus `json:"index_status"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// NewLoreEntry is the input type for creating lore entries (without
// generated fields).
type NewLoreEntry struct {
	WorldID                string   `json:"world_id"`
	Title                  string   `json:"title"`
	Content                string   `json:"content"`
	Tags                   []string `json:"tags"`
	IsDynamicallyGenerated bool     `json:"is_dynamically_generated"`
}

// EntryRef is a lightweight (id, title) reference used to let the turn
// analyzer resolve entity mentions.
type EntryRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SessionNote is the session-scoped narrative overlay on a LoreEntry.
// There is at most one note per (session, entry) pair; the note-update
// worker replaces its content wholesale on every update.
type SessionNote struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	LoreEntryID     string    `json:"lore_entry_id"`
	NoteContent     string    `json:"note_content"`
	LastUpdatedTurn int64     `json:"last_updated_turn"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NoteUpdateTask is a queued request to rewrite one session note.
type NoteUpdateTask struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	LoreEntryID   string     `json:"lore_entry_id"`
	UpdateSummary string     `json:"update_summary"`
	Status        TaskStatus `json:"status"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EntityCreationTask is a queued request to synthesize a brand-new entity.
type EntityCreationTask struct {
	ID                  string     `json:"id"`
	SessionID           string     `json:"session_id"`
	WorldID             string     `json:"world_id"`
	EntityType          string     `json:"entity_type"`
	CreationSummary     string     `json:"creation_summary"`
	Status              TaskStatus `json:"status"`
	CreatedLoreEntryID  *string    `json:"created_lore_entry_id,omitempty"`
	DuplicateOfID       *string    `json:"duplicate_of_id,omitempty"`
	DuplicateSimilarity *float64   `json:"duplicate_similarity,omitempty"`
	RetryCount          int        `json:"retry_count"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	NextAttemptAt       time.Time  `json:"next_attempt_at"`
	ClaimedAt           *time.Time `json:"claimed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// UpdateIntention is one analyzer-detected change to an existing entity.
type UpdateIntention struct {
	LoreEntryID   string `json:"lore_entry_id"`
	UpdateSummary string `json:"update_summary"`
}

// CreationIntention is one analyzer-detected brand-new entity.
type CreationIntention struct {
	EntityType      string `json:"entity_type"`
	CreationSummary string `json:"creation_summary"`
}

// TurnAnalysis is the structured result of analyzing one conversational
// turn. Both lists may be empty for a no-op turn.
type TurnAnalysis struct {
	Updates   []UpdateIntention   `json:"updates"`
	Creations []CreationIntention `json:"creations"`
}

// Empty reports whether the analysis produced no intentions.
func (a TurnAnalysis) Empty() bool {
	return len(a.Updates) == 0 && len(a.Creations) == 0
}

// EntityDraft is the validated structured output of entity synthesis.
// It is never free text; the parse boundary in the synthesis package
// rejects anything that does not deserialize into this shape.
type EntityDraft struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// TurnRequest is the body of POST /api/v1/turns.
// If Analysis is set, the analyzer model call is skipped and the
// intentions are dispatched as given.
type TurnRequest struct {
	SessionID string        `json:"session_id"`
	WorldID   string        `json:"world_id,omitempty"`
	Turn      int64         `json:"turn"`
	Text      string        `json:"text"`
	Context   string        `json:"context,omitempty"`
	Analysis  *TurnAnalysis `json:"analysis,omitempty"`
}

// TurnResponse lists the tasks enqueued for a turn.
type TurnResponse struct {
	NoteUpdateTaskIDs     []string `json:"note_update_task_ids"`
	EntityCreationTaskIDs []string `json:"entity_creation_task_ids"`
}

// RecallRequest is the body of POST /api/v1/recall.
type RecallRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

// RecallMatch is one similarity hit from the vector index.
type RecallMatch struct {
	LoreEntryID string  `json:"lore_entry_id"`
	Similarity  float32 `json:"similarity"`
}

// RecallResponse is the result of a recall query.
type RecallResponse struct {
	Matches []RecallMatch `json:"matches"`
}

// QueueStats counts tasks by status for one queue.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status         string     `json:"status"`
	Version        string     `json:"version"`
	EmbeddingModel string     `json:"embedding_model"`
	EntryCount     int64      `json:"entry_count"`
	NoteUpdates    QueueStats `json:"note_updates"`
	Creations      QueueStats `json:"entity_creations"`
}

// MarshalJSON ensures nil slices in LoreEntry marshal as [] not null.
func (l LoreEntry) MarshalJSON() ([]byte, error) {
	if l.Tags == nil {
		l.Tags = []string{}
	}
	type Alias LoreEntry
	return json.Marshal(Alias(l))
}

// MarshalJSON ensures nil slices in TurnAnalysis marshal as [] not null.
func (a TurnAnalysis) MarshalJSON() ([]byte, error) {
	if a.Updates == nil {
		a.Updates = []UpdateIntention{}
	}
	if a.Creations == nil {
		a.Creations = []CreationIntention{}
	}
	type Alias TurnAnalysis
	return json.Marshal(Alias(a))
}

// MarshalJSON ensures nil slices in TurnResponse marshal as [] not null.
func (r TurnResponse) MarshalJSON() ([]byte, error) {
	if r.NoteUpdateTaskIDs == nil {
		r.NoteUpdateTaskIDs = []string{}
	}
	if r.EntityCreationTaskIDs == nil {
		r.EntityCreationTaskIDs = []string{}
	}
	type Alias TurnResponse
	return json.Marshal(Alias(r))
}

// MarshalJSON ensures nil slices in RecallResponse marshal as [] not null.
func (r RecallResponse) MarshalJSON() ([]byte, error) {
	if r.Matches == nil {
		r.Matches = []RecallMatch{}
	}
	type Alias RecallResponse
	return json.Marshal(Alias(r))
}
