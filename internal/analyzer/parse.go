package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fablecore/chronicle/internal/types"
)

// ErrMalformedAnalysis means the model's analysis output could not be
// parsed in full. The turn is discarded rather than partially dispatched.
var ErrMalformedAnalysis = errors.New("malformed analysis output")

// stripCodeFence removes a surrounding markdown code fence if the model
// added one despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseAnalysis converts raw model output into a validated TurnAnalysis.
// Every item must carry both of its fields; one bad item rejects the
// whole batch.
func parseAnalysis(raw string) (*types.TurnAnalysis, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedAnalysis)
	}

	var analysis types.TurnAnalysis
	decoder := json.NewDecoder(strings.NewReader(cleaned))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}

	for i, u := range analysis.Updates {
		u.LoreEntryID = strings.TrimSpace(u.LoreEntryID)
		u.UpdateSummary = strings.TrimSpace(u.UpdateSummary)
		if u.LoreEntryID == "" {
			return nil, fmt.Errorf("%w: update %d missing lore_entry_id", ErrMalformedAnalysis, i)
		}
		if u.UpdateSummary == "" {
			return nil, fmt.Errorf("%w: update %d missing update_summary", ErrMalformedAnalysis, i)
		}
		analysis.Updates[i] = u
	}

	for i, c := range analysis.Creations {
		c.EntityType = strings.TrimSpace(c.EntityType)
		c.CreationSummary = strings.TrimSpace(c.CreationSummary)
		if c.EntityType == "" {
			return nil, fmt.Errorf("%w: creation %d missing entity_type", ErrMalformedAnalysis, i)
		}
		if c.CreationSummary == "" {
			return nil, fmt.Errorf("%w: creation %d missing creation_summary", ErrMalformedAnalysis, i)
		}
		analysis.Creations[i] = c
	}

	return &analysis, nil
}
