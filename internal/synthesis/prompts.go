package synthesis

import (
	"fmt"
	"strings"
)

const rewriteSystemPrompt = `You maintain session notes for a long-running roleplay world.
You are given an entity's canonical lore, its current session note, and a summary of a new event.
Write the complete replacement session note. Preserve every prior fact that is still true,
integrate the new event, resolve contradictions in favor of the newer event, and stay
narratively consistent with the canonical lore. Respond with the note text only: no preamble,
no headings, no commentary.`

const draftSystemPrompt = `You create new entities for a long-running roleplay world.
Given an entity type and a description, respond with a single JSON object and nothing else:
{"title": "short canonical name", "content": "the entity's lore entry, a few sentences", "tags": ["lowercase", "keywords"]}
The title and content must be non-empty. Do not wrap the JSON in markdown fences.`

func buildRewritePrompt(req RewriteRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\n\n", req.EntryTitle)
	fmt.Fprintf(&b, "Canonical lore:\n%s\n\n", req.StaticContent)
	if req.CurrentNote != "" {
		fmt.Fprintf(&b, "Current session note:\n%s\n\n", req.CurrentNote)
	} else {
		b.WriteString("Current session note: (none yet)\n\n")
	}
	fmt.Fprintf(&b, "New event to integrate:\n%s", req.UpdateSummary)
	return b.String()
}

func buildDraftPrompt(req DraftRequest) string {
	return fmt.Sprintf("Entity type: %s\n\nDescription:\n%s", req.EntityType, req.CreationSummary)
}
