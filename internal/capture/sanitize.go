package capture

import "strings"

// Redacted replaces the value of any field whose name matches the sensitive
// list. The original value is gone before the entry reaches storage or a
// notifier; there is no way to recover it downstream.
const Redacted = "***REDACTED***"

// DefaultSensitiveFields are matched as lowercase substrings of field names,
// so "user_password" and "apiKeyId" are caught too.
var DefaultSensitiveFields = []string{
	"password", "passwd", "token", "api_key", "apikey", "secret",
	"authorization", "card_number", "cvv", "private_key", "secret_key",
	"cpf", "ssn",
}

// Sanitizer redacts sensitive fields from decoded JSON-ish values
// (maps, slices, scalars) without mutating the input.
type Sanitizer struct {
	fields []string
}

// NewSanitizer builds a sanitizer for the given field list; an empty list
// falls back to DefaultSensitiveFields.
func NewSanitizer(fields []string) *Sanitizer {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(f)
	}
	return &Sanitizer{fields: lowered}
}

func (s *Sanitizer) sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, f := range s.fields {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of v with every sensitive field's value
// replaced by the redaction marker. Non-container values pass through
// unchanged.
func (s *Sanitizer) Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if s.sensitive(k) {
				out[k] = Redacted
				continue
			}
			out[k] = s.Sanitize(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.Sanitize(inner)
		}
		return out
	default:
		return v
	}
}

// SanitizeMap is Sanitize specialised for the context map carried on entries.
func (s *Sanitizer) SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return s.Sanitize(m).(map[string]any)
}

// SanitizeHeaders redacts sensitive header values in place of a copy.
func (s *Sanitizer) SanitizeHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if s.sensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}
