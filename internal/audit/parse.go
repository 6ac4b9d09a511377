package audit

import (
	"encoding/json"
	"strings"
)

// Parsed carries the outcome of decoding a provider response. Structured
// is true when the response unmarshalled cleanly; otherwise Value holds
// the caller's fallback and downstream code branches on the flag.
type Parsed[T any] struct {
	Value      T
	Structured bool
}

// ParseStructured decodes a provider response into T. The response may
// wrap the JSON in markdown code fences or surrounding prose; both are
// stripped before unmarshalling. Parsing never fails: when no valid
// object can be decoded the fallback is returned with Structured=false.
func ParseStructured[T any](text string, fallback func() T) Parsed[T] {
	cleaned := cleanJSON(text)

	var value T
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return Parsed[T]{Value: fallback(), Structured: false}
	}
	return Parsed[T]{Value: value, Structured: true}
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
