package vector

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// Compile-time interface check
var _ Index = (*ChromemIndex)(nil)

const collectionName = "lore_entries"

// ChromemIndex implements Index on chromem-go, an embedded pure-Go vector
// database. Adding a document under an existing id replaces it, which gives
// the replace-never-append upsert semantics directly.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemIndex creates an index persisted under path. An empty path
// yields an in-memory index, used by tests.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector database: %w", err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	return &ChromemIndex{db: db, collection: collection}, nil
}

// Upsert stores the embedding for an entity, replacing any existing vector.
func (i *ChromemIndex) Upsert(ctx context.Context, loreEntryID, document string, embedding []float32) error {
	err := i.collection.AddDocument(ctx, chromem.Document{
		ID:        loreEntryID,
		Content:   document,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// Query returns up to k entities nearest to the given embedding.
// chromem-go rejects nResults larger than the collection, so k is clamped.
func (i *ChromemIndex) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	count := i.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := i.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	matches := make([]Match, len(results))
	for n, r := range results {
		matches[n] = Match{LoreEntryID: r.ID, Similarity: r.Similarity}
	}
	return matches, nil
}

// Count returns the number of indexed entities.
func (i *ChromemIndex) Count() int {
	return i.collection.Count()
}
