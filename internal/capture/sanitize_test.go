package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsSensitiveKeys(t *testing.T) {
	s := NewSanitizer(nil)

	out := s.Sanitize(map[string]any{
		"username": "douglas",
		"password": "hunter2",
		"Token":    "abc",
		"api_key":  "xyz",
	}).(map[string]any)

	assert.Equal(t, "douglas", out["username"])
	assert.Equal(t, Redacted, out["password"])
	assert.Equal(t, Redacted, out["Token"])
	assert.Equal(t, Redacted, out["api_key"])
}

func TestSanitizeMatchesSubstrings(t *testing.T) {
	s := NewSanitizer(nil)

	out := s.Sanitize(map[string]any{
		"user_password":   "x",
		"apiKeyId":        "y",
		"authorization_2": "z",
	}).(map[string]any)

	assert.Equal(t, Redacted, out["user_password"])
	assert.Equal(t, Redacted, out["apiKeyId"])
	assert.Equal(t, Redacted, out["authorization_2"])
}

func TestSanitizeRecursesIntoNestedStructures(t *testing.T) {
	s := NewSanitizer(nil)

	out := s.Sanitize(map[string]any{
		"payment": map[string]any{
			"card_number": "4111111111111111",
			"amount":      99.9,
		},
		"items": []any{
			map[string]any{"cvv": "123", "sku": "A-1"},
			"plain string",
		},
	}).(map[string]any)

	payment := out["payment"].(map[string]any)
	assert.Equal(t, Redacted, payment["card_number"])
	assert.Equal(t, 99.9, payment["amount"])

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, Redacted, first["cvv"])
	assert.Equal(t, "A-1", first["sku"])
	assert.Equal(t, "plain string", items[1])
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	s := NewSanitizer(nil)
	in := map[string]any{"password": "hunter2"}

	_ = s.Sanitize(in)

	assert.Equal(t, "hunter2", in["password"])
}

func TestSanitizeCustomFieldList(t *testing.T) {
	s := NewSanitizer([]string{"internal_code"})

	out := s.Sanitize(map[string]any{
		"internal_code": "secret-ish",
		"password":      "left alone with a custom list",
	}).(map[string]any)

	assert.Equal(t, Redacted, out["internal_code"])
	assert.Equal(t, "left alone with a custom list", out["password"])
}

func TestSanitizeScalarPassthrough(t *testing.T) {
	s := NewSanitizer(nil)

	assert.Equal(t, "hello", s.Sanitize("hello"))
	assert.Equal(t, 42, s.Sanitize(42))
	assert.Nil(t, s.Sanitize(nil))
}

func TestSanitizeHeaders(t *testing.T) {
	s := NewSanitizer(nil)

	out := s.SanitizeHeaders(map[string]string{
		"Authorization": "Bearer abc",
		"Content-Type":  "application/json",
	})

	assert.Equal(t, Redacted, out["Authorization"])
	assert.Equal(t, "application/json", out["Content-Type"])
}
