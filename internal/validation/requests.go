package validation

import (
	"fmt"

	"github.com/fablecore/chronicle/internal/types"
)

// Field size limits for inbound requests. Turn text is the largest
// payload; everything else is identifier-sized.
const (
	maxTurnTextLength  = 32_000
	maxContextLength   = 32_000
	maxIDLength        = 128
	maxSummaryLength   = 4_000
	maxRecallTextLen   = 8_000
	maxRecallK         = 100
	maxAnalysisItems   = 50
	maxEntityTypeChars = 64
)

// ValidateTurnRequest validates the body of a turn submission.
func ValidateTurnRequest(req types.TurnRequest) []ValidationError {
	var c Collector

	c.Add(ValidateRequired("session_id", req.SessionID))
	c.Add(ValidateMaxLength("session_id", req.SessionID, maxIDLength))
	c.Add(ValidateNoNullBytes("session_id", req.SessionID))

	c.Add(ValidateMaxLength("world_id", req.WorldID, maxIDLength))
	c.Add(ValidateNonNegative("turn", req.Turn))

	c.Add(ValidateRequired("text", req.Text))
	c.Add(ValidateUTF8("text", req.Text))
	c.Add(ValidateNoNullBytes("text", req.Text))
	c.Add(ValidateMaxLength("text", req.Text, maxTurnTextLength))

	c.Add(ValidateUTF8("context", req.Context))
	c.Add(ValidateMaxLength("context", req.Context, maxContextLength))

	if req.Analysis != nil {
		for _, err := range validateAnalysis(*req.Analysis) {
			c.Add(&err)
		}
	}

	return c.Errors()
}

// validateAnalysis validates pre-analyzed intentions supplied by the
// caller in place of a model analysis.
func validateAnalysis(a types.TurnAnalysis) []ValidationError {
	var c Collector

	if len(a.Updates)+len(a.Creations) > maxAnalysisItems {
		c.Add(&ValidationError{Field: "analysis", Message: "too many intentions"})
		return c.Errors()
	}

	for i, u := range a.Updates {
		prefix := indexedField("analysis.updates", i)
		c.Add(ValidateRequired(prefix+".lore_entry_id", u.LoreEntryID))
		c.Add(ValidateMaxLength(prefix+".lore_entry_id", u.LoreEntryID, maxIDLength))
		c.Add(ValidateRequired(prefix+".update_summary", u.UpdateSummary))
		c.Add(ValidateMaxLength(prefix+".update_summary", u.UpdateSummary, maxSummaryLength))
	}

	for i, cr := range a.Creations {
		prefix := indexedField("analysis.creations", i)
		c.Add(ValidateRequired(prefix+".entity_type", cr.EntityType))
		c.Add(ValidateMaxLength(prefix+".entity_type", cr.EntityType, maxEntityTypeChars))
		c.Add(ValidateRequired(prefix+".creation_summary", cr.CreationSummary))
		c.Add(ValidateMaxLength(prefix+".creation_summary", cr.CreationSummary, maxSummaryLength))
	}

	return c.Errors()
}

// ValidateRecallRequest validates the body of a recall query.
func ValidateRecallRequest(req types.RecallRequest) []ValidationError {
	var c Collector

	c.Add(ValidateRequired("text", req.Text))
	c.Add(ValidateUTF8("text", req.Text))
	c.Add(ValidateMaxLength("text", req.Text, maxRecallTextLen))

	if req.K < 0 || req.K > maxRecallK {
		c.Add(&ValidationError{Field: "k", Message: "must be between 0 and 100"})
	}

	return c.Errors()
}

func indexedField(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}
