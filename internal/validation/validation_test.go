package validation

import (
	"strings"
	"testing"
)

func TestCollector_AccumulatesErrors(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("new collector should have no errors")
	}

	c.Add(nil)
	if c.HasErrors() {
		t.Error("adding nil should not record an error")
	}

	c.Add(&ValidationError{Field: "a", Message: "bad"})
	c.Add(&ValidationError{Field: "b", Message: "worse"})
	if len(c.Errors()) != 2 {
		t.Errorf("expected 2 errors, got %d", len(c.Errors()))
	}
}

func TestValidateUTF8(t *testing.T) {
	if err := ValidateUTF8("f", "héllo"); err != nil {
		t.Errorf("valid UTF-8 rejected: %v", err)
	}
	if err := ValidateUTF8("f", string([]byte{0xff, 0xfe})); err == nil {
		t.Error("invalid UTF-8 accepted")
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("f", "clean"); err != nil {
		t.Errorf("clean string rejected: %v", err)
	}
	if err := ValidateNoNullBytes("f", "bad\x00byte"); err == nil {
		t.Error("null byte accepted")
	}
}

func TestValidateMaxLength_CountsRunes(t *testing.T) {
	if err := ValidateMaxLength("f", strings.Repeat("é", 10), 10); err != nil {
		t.Errorf("10 runes rejected at max 10: %v", err)
	}
	if err := ValidateMaxLength("f", strings.Repeat("é", 11), 10); err == nil {
		t.Error("11 runes accepted at max 10")
	}
}

func TestValidateULID(t *testing.T) {
	if err := ValidateULID("f", "01HQZX5J8N9P2R4T6V8W0Y1Z3A"); err != nil {
		t.Errorf("valid ULID rejected: %v", err)
	}
	if err := ValidateULID("f", "too-short"); err == nil {
		t.Error("short value accepted as ULID")
	}
	if err := ValidateULID("f", "01HQZX5J8N9P2R4T6V8W0Y1Z3U"); err == nil {
		t.Error("ULID with excluded character U accepted")
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("f", "value"); err != nil {
		t.Errorf("non-empty rejected: %v", err)
	}
	if err := ValidateRequired("f", "   "); err == nil {
		t.Error("whitespace-only accepted")
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"pending", "failed"}
	if err := ValidateEnum("f", "pending", allowed); err != nil {
		t.Errorf("allowed value rejected: %v", err)
	}
	if err := ValidateEnum("f", "unknown", allowed); err == nil {
		t.Error("disallowed value accepted")
	}
}

func TestValidateNonNegative(t *testing.T) {
	if err := ValidateNonNegative("f", 0); err != nil {
		t.Errorf("zero rejected: %v", err)
	}
	if err := ValidateNonNegative("f", -1); err == nil {
		t.Error("negative accepted")
	}
}
