package validation

import (
	"strings"
	"testing"

	"github.com/fablecore/chronicle/internal/types"
)

func validTurnRequest() types.TurnRequest {
	return types.TurnRequest{
		SessionID: "sess-1",
		WorldID:   "world-1",
		Turn:      3,
		Text:      "Rin draws her blade.",
	}
}

func fieldNames(errs []ValidationError) []string {
	names := make([]string, len(errs))
	for i, e := range errs {
		names[i] = e.Field
	}
	return names
}

func TestValidateTurnRequest_Valid(t *testing.T) {
	if errs := ValidateTurnRequest(validTurnRequest()); len(errs) != 0 {
		t.Errorf("valid request rejected: %v", errs)
	}
}

func TestValidateTurnRequest_MissingFields(t *testing.T) {
	errs := ValidateTurnRequest(types.TurnRequest{Turn: -1})
	fields := strings.Join(fieldNames(errs), ",")
	for _, want := range []string{"session_id", "text", "turn"} {
		if !strings.Contains(fields, want) {
			t.Errorf("expected error for %s, got %v", want, errs)
		}
	}
}

func TestValidateTurnRequest_OversizedText(t *testing.T) {
	req := validTurnRequest()
	req.Text = strings.Repeat("a", 32_001)
	if errs := ValidateTurnRequest(req); len(errs) == 0 {
		t.Error("oversized text accepted")
	}
}

func TestValidateTurnRequest_PreAnalyzedItems(t *testing.T) {
	req := validTurnRequest()
	req.Analysis = &types.TurnAnalysis{
		Updates: []types.UpdateIntention{
			{LoreEntryID: "entry-1", UpdateSummary: "ok"},
			{LoreEntryID: "", UpdateSummary: "missing id"},
		},
		Creations: []types.CreationIntention{
			{EntityType: "Character", CreationSummary: ""},
		},
	}

	errs := ValidateTurnRequest(req)
	fields := strings.Join(fieldNames(errs), ",")
	if !strings.Contains(fields, "analysis.updates[1].lore_entry_id") {
		t.Errorf("expected indexed update error, got %v", errs)
	}
	if !strings.Contains(fields, "analysis.creations[0].creation_summary") {
		t.Errorf("expected indexed creation error, got %v", errs)
	}
}

func TestValidateTurnRequest_TooManyIntentions(t *testing.T) {
	req := validTurnRequest()
	analysis := &types.TurnAnalysis{}
	for i := 0; i < 51; i++ {
		analysis.Creations = append(analysis.Creations, types.CreationIntention{
			EntityType: "Character", CreationSummary: "x",
		})
	}
	req.Analysis = analysis

	errs := ValidateTurnRequest(req)
	if len(errs) != 1 || errs[0].Field != "analysis" {
		t.Errorf("expected single analysis error, got %v", errs)
	}
}

func TestValidateRecallRequest(t *testing.T) {
	if errs := ValidateRecallRequest(types.RecallRequest{Text: "where is Rin", K: 5}); len(errs) != 0 {
		t.Errorf("valid request rejected: %v", errs)
	}
	if errs := ValidateRecallRequest(types.RecallRequest{Text: ""}); len(errs) == 0 {
		t.Error("empty text accepted")
	}
	if errs := ValidateRecallRequest(types.RecallRequest{Text: "x", K: 101}); len(errs) == 0 {
		t.Error("k above limit accepted")
	}
}
