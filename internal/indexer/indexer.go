// Package indexer maintains the vector index projection of the lore
// repository. Each lore entry is indexed as one composite document built
// from its static content and the most recent session note, so a
// similarity query sees both halves of an entry at once.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fablecore/chronicle/internal/embedding"
	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/types"
	"github.com/fablecore/chronicle/internal/vector"
)

// Store is the persistence surface the indexer depends on.
type Store interface {
	GetLoreEntry(ctx context.Context, id string) (*types.LoreEntry, error)
	GetLatestSessionNote(ctx context.Context, loreEntryID string) (*types.SessionNote, error)
	SetIndexStatus(ctx context.Context, loreEntryID string, status types.IndexStatus) error
}

// CompositeIndexer rebuilds the indexed document for a lore entry after
// either half of it changes. Reindexing an entry with unchanged inputs
// produces an identical document, so a retry after a partial failure is
// always safe.
type CompositeIndexer struct {
	store    Store
	embedder embedding.Embedder
	index    vector.Index
	logger   *slog.Logger
}

// NewCompositeIndexer creates an indexer over the given store, embedder,
// and vector index.
func NewCompositeIndexer(s Store, e embedding.Embedder, idx vector.Index, logger *slog.Logger) *CompositeIndexer {
	return &CompositeIndexer{
		store:    s,
		embedder: e,
		index:    idx,
		logger:   logger.With("component", "indexer"),
	}
}

// Reindex rebuilds the composite document for one lore entry, embeds it,
// upserts the vector, and marks the entry's index projection complete.
// A missing latest note is normal for entries never touched in play; the
// document then carries only the static half.
func (ci *CompositeIndexer) Reindex(ctx context.Context, loreEntryID string) error {
	entry, err := ci.store.GetLoreEntry(ctx, loreEntryID)
	if err != nil {
		return fmt.Errorf("load lore entry %s: %w", loreEntryID, err)
	}

	noteContent := ""
	note, err := ci.store.GetLatestSessionNote(ctx, loreEntryID)
	switch {
	case err == nil:
		noteContent = note.NoteContent
	case errors.Is(err, store.ErrNotFound):
		// no session has annotated this entry yet
	default:
		return fmt.Errorf("load latest note for %s: %w", loreEntryID, err)
	}

	doc := buildCompositeDocument(entry, noteContent)

	vec, err := ci.embedder.Embed(ctx, doc)
	if err != nil {
		return fmt.Errorf("embed composite document for %s: %w", loreEntryID, err)
	}

	if err := ci.index.Upsert(ctx, loreEntryID, doc, vec); err != nil {
		return fmt.Errorf("upsert vector for %s: %w", loreEntryID, err)
	}

	if err := ci.store.SetIndexStatus(ctx, loreEntryID, types.IndexComplete); err != nil {
		return fmt.Errorf("mark index complete for %s: %w", loreEntryID, err)
	}

	ci.logger.Debug("entry reindexed", "lore_entry_id", loreEntryID, "doc_len", len(doc))
	return nil
}

// buildCompositeDocument joins the static lore content and the current
// session note under labeled sections. The framing keeps the two halves
// distinguishable to the embedding model without inventing structure the
// entry does not have: a missing note simply omits its section.
func buildCompositeDocument(entry *types.LoreEntry, noteContent string) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(entry.Title)
	b.WriteString("\n\n## Lore\n")
	b.WriteString(strings.TrimSpace(entry.Content))
	if len(entry.Tags) > 0 {
		b.WriteString("\n\nTags: ")
		b.WriteString(strings.Join(entry.Tags, ", "))
	}
	if trimmed := strings.TrimSpace(noteContent); trimmed != "" {
		b.WriteString("\n\n## Session Notes\n")
		b.WriteString(trimmed)
	}
	return b.String()
}
