package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fablecore/chronicle/internal/types"
)

// stripCodeFence removes a surrounding markdown code fence if the model
// added one despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseEntityDraft converts raw model output into a validated EntityDraft.
// Anything that does not deserialize into the expected shape with a
// non-empty title and content is ErrMalformedOutput.
func parseEntityDraft(raw string) (*types.EntityDraft, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	var draft types.EntityDraft
	decoder := json.NewDecoder(strings.NewReader(cleaned))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&draft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	draft.Title = strings.TrimSpace(draft.Title)
	draft.Content = strings.TrimSpace(draft.Content)
	if draft.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedOutput)
	}
	if draft.Content == "" {
		return nil, fmt.Errorf("%w: missing content", ErrMalformedOutput)
	}

	tags := draft.Tags[:0]
	for _, tag := range draft.Tags {
		if t := strings.ToLower(strings.TrimSpace(tag)); t != "" {
			tags = append(tags, t)
		}
	}
	draft.Tags = tags

	return &draft, nil
}
