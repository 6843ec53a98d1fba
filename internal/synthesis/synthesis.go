// Package synthesis wraps the language-model calls that rewrite session
// notes and draft new entities. Model output crosses a strict
// parse-and-validate boundary here; free text never flows past it.
package synthesis

import (
	"context"
	"errors"

	"github.com/fablecore/chronicle/internal/types"
)

// ErrMalformedOutput marks model output that failed structural validation.
// Callers use it to distinguish terminal failures from transient ones:
// retrying an ill-posed prompt rarely helps, retrying a timeout does.
var ErrMalformedOutput = errors.New("malformed synthesis output")

// RewriteRequest carries everything the note rewrite needs: the canonical
// definition, the current session overlay, and the new event to integrate.
type RewriteRequest struct {
	EntryTitle    string
	StaticContent string
	CurrentNote   string
	UpdateSummary string
}

// DraftRequest describes a brand-new entity to synthesize.
type DraftRequest struct {
	EntityType      string
	CreationSummary string
}

// Service defines the synthesis operations used by the worker pools.
type Service interface {
	// RewriteNote produces a complete replacement note that preserves
	// still-true prior facts and integrates the update summary. The result
	// fully replaces the note; it is a synthesis, not a diff.
	RewriteNote(ctx context.Context, req RewriteRequest) (string, error)

	// DraftEntity produces a validated structured record for a new entity.
	// Returns ErrMalformedOutput when the model's answer does not parse
	// into a draft with a non-empty title and content.
	DraftEntity(ctx context.Context, req DraftRequest) (*types.EntityDraft, error)
}
