// Package recorder provides concrete fsm.Recorder and fsm.Redactor
// implementations: field redaction, an in-memory ring buffer for debugging,
// and a fan-out combinator across several recorders.
package recorder

import "encoding/json"

// FieldRedactor blanks out a fixed set of JSON object keys (at any nesting
// depth) before the engine hashes and hands a snapshot to recorders. It
// implements fsm.Redactor.
type FieldRedactor struct {
	fields map[string]struct{}
}

// NewFieldRedactor builds a FieldRedactor that blanks the given field names.
func NewFieldRedactor(fields ...string) *FieldRedactor {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &FieldRedactor{fields: set}
}

const redactedPlaceholder = "***REDACTED***"

// Redact returns a copy of data with every configured field name replaced
// by a placeholder, at any nesting depth. Malformed JSON is returned
// unchanged; the engine still hashes whatever bytes it is given.
func (r *FieldRedactor) Redact(data []byte) []byte {
	if len(r.fields) == 0 {
		return data
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}

	redacted := r.walk(v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return data
	}
	return out
}

func (r *FieldRedactor) walk(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if _, redact := r.fields[k]; redact {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = r.walk(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	default:
		return v
	}
}
