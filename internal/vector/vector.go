// Package vector provides the nearest-neighbor index holding exactly one
// embedding per lore entry. It is a derived projection of the repository:
// writes are idempotent upserts, and staleness is tolerated up to the
// bounded lag tracked by the store's index_status column.
package vector

import "context"

// Match is one similarity hit against the index.
type Match struct {
	LoreEntryID string
	Similarity  float32
}

// Index defines the vector index operations the pipeline needs.
type Index interface {
	// Upsert stores the embedding for an entity, replacing any existing
	// vector. Exactly one vector per entity id is the standing invariant.
	Upsert(ctx context.Context, loreEntryID, document string, embedding []float32) error

	// Query returns up to k entities nearest to the given embedding.
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)
}
