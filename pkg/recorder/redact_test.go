package recorder

import (
	"encoding/json"
	"testing"
)

func TestFieldRedactorBlanksNestedFields(t *testing.T) {
	r := NewFieldRedactor("ssn", "secret")
	input := `{"name":"alice","ssn":"123-45-6789","nested":{"secret":"xyz","ok":"fine"}}`

	out := r.Redact([]byte(input))

	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("unmarshal redacted output: %v", err)
	}
	if parsed["ssn"] != redactedPlaceholder {
		t.Fatalf("expected ssn redacted, got %v", parsed["ssn"])
	}
	if parsed["name"] != "alice" {
		t.Fatalf("expected name untouched, got %v", parsed["name"])
	}
	nested := parsed["nested"].(map[string]interface{})
	if nested["secret"] != redactedPlaceholder {
		t.Fatalf("expected nested secret redacted, got %v", nested["secret"])
	}
	if nested["ok"] != "fine" {
		t.Fatalf("expected nested ok untouched, got %v", nested["ok"])
	}
}

func TestFieldRedactorNoFieldsIsNoop(t *testing.T) {
	r := NewFieldRedactor()
	input := []byte(`{"a":1}`)
	out := r.Redact(input)
	if string(out) != string(input) {
		t.Fatalf("expected unchanged output, got %s", out)
	}
}

func TestFieldRedactorMalformedJSONPassesThrough(t *testing.T) {
	r := NewFieldRedactor("x")
	input := []byte(`not json`)
	out := r.Redact(input)
	if string(out) != string(input) {
		t.Fatalf("expected malformed input unchanged, got %s", out)
	}
}
