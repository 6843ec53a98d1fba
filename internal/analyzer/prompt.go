package analyzer

import (
	"fmt"
	"strings"

	"github.com/fablecore/chronicle/internal/types"
)

const analyzeSystemPrompt = `You watch a long-running roleplay conversation and extract memory-maintenance work from each turn.
You are given the known entities of the world as (id, title) pairs, the text of the latest turn, and optional surrounding context.
Respond with a single JSON object and nothing else:
{"updates": [{"lore_entry_id": "id of a known entity", "update_summary": "what changed for it this turn"}],
 "creations": [{"entity_type": "Character|Location|Item|Faction|Concept", "creation_summary": "description of the brand-new entity"}]}
Rules:
- updates may only reference ids from the known-entities list.
- creations are only for entities that are clearly new to the world, not passing mentions.
- Most turns change nothing: then respond {"updates": [], "creations": []}.
- Do not wrap the JSON in markdown fences.`

func buildAnalyzePrompt(req types.TurnRequest, known []types.EntryRef) string {
	var b strings.Builder
	b.WriteString("Known entities:\n")
	if len(known) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, ref := range known {
		fmt.Fprintf(&b, "- %s: %s\n", ref.ID, ref.Title)
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", req.Context)
	}
	fmt.Fprintf(&b, "\nTurn %d:\n%s", req.Turn, req.Text)
	return b.String()
}
