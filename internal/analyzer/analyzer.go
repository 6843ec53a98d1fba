// Package analyzer turns a completed conversational turn into structured
// maintenance intentions. It is the only pipeline stage that interprets
// free-form chat text; everything downstream works on its structured
// output.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fablecore/chronicle/internal/types"
)

// Completer is the bounded language-model call the analyzer needs.
// *synthesis.OpenAI satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// EntryLister supplies the known-entity references the analyzer uses to
// resolve mentions to lore entry ids.
type EntryLister interface {
	ListEntryRefs(ctx context.Context, limit int) ([]types.EntryRef, error)
}

// TurnAnalyzer extracts update and creation intentions from turn text.
// It fails closed: a turn whose model output cannot be parsed in full
// yields an error and zero intentions, never a partial batch.
type TurnAnalyzer struct {
	completer        Completer
	entries          EntryLister
	maxKnownEntities int
	logger           *slog.Logger
}

// NewTurnAnalyzer creates an analyzer. maxKnownEntities bounds how many
// (id, title) pairs are listed in the prompt.
func NewTurnAnalyzer(c Completer, entries EntryLister, maxKnownEntities int, logger *slog.Logger) *TurnAnalyzer {
	if maxKnownEntities <= 0 {
		maxKnownEntities = 200
	}
	return &TurnAnalyzer{
		completer:        c,
		entries:          entries,
		maxKnownEntities: maxKnownEntities,
		logger:           logger.With("component", "analyzer"),
	}
}

// Analyze inspects one completed turn and returns the intentions it
// carries. Both lists may be empty; that is the common case.
func (a *TurnAnalyzer) Analyze(ctx context.Context, req types.TurnRequest) (*types.TurnAnalysis, error) {
	known, err := a.entries.ListEntryRefs(ctx, a.maxKnownEntities)
	if err != nil {
		return nil, fmt.Errorf("list known entities: %w", err)
	}

	raw, err := a.completer.Complete(ctx, analyzeSystemPrompt, buildAnalyzePrompt(req, known))
	if err != nil {
		return nil, fmt.Errorf("analyze turn: %w", err)
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		a.logger.Warn("turn analysis discarded",
			"session_id", req.SessionID,
			"turn", req.Turn,
			"error", err)
		return nil, err
	}

	a.logger.Debug("turn analyzed",
		"session_id", req.SessionID,
		"turn", req.Turn,
		"updates", len(analysis.Updates),
		"creations", len(analysis.Creations))
	return analysis, nil
}
