package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTaskStatus_Terminal(t *testing.T) {
	cases := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskPending, false},
		{TaskInProgress, false},
		{TaskSucceeded, true},
		{TaskFailed, true},
	}

	for _, c := range cases {
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", c.status, got, c.terminal)
		}
	}
}

func TestTurnAnalysis_Empty(t *testing.T) {
	if !(TurnAnalysis{}).Empty() {
		t.Error("zero-value analysis should be empty")
	}

	withUpdate := TurnAnalysis{Updates: []UpdateIntention{{LoreEntryID: "e1", UpdateSummary: "s"}}}
	if withUpdate.Empty() {
		t.Error("analysis with an update should not be empty")
	}

	withCreation := TurnAnalysis{Creations: []CreationIntention{{EntityType: "Character", CreationSummary: "s"}}}
	if withCreation.Empty() {
		t.Error("analysis with a creation should not be empty")
	}
}

func TestLoreEntry_MarshalNilTags(t *testing.T) {
	data, err := json.Marshal(LoreEntry{ID: "e1"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"tags":null`) {
		t.Errorf("expected nil tags to marshal as [], got %s", data)
	}
}

func TestTurnAnalysis_MarshalNilSlices(t *testing.T) {
	data, err := json.Marshal(TurnAnalysis{})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, "null") {
		t.Errorf("expected nil slices to marshal as [], got %s", s)
	}
}

func TestTurnResponse_MarshalNilSlices(t *testing.T) {
	data, err := json.Marshal(TurnResponse{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("expected nil slices to marshal as [], got %s", data)
	}
}
