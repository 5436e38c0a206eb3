// Package structured pulls JSON values out of free-form model output.
package structured

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoStructuredData is returned when none of the extraction tiers
// produced a value of the requested shape.
var ErrNoStructuredData = errors.New("no structured data in response")

var (
	fencedObject   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	balancedObject = regexp.MustCompile(`(?s)\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
)

// Extract decodes the first JSON object it can find in text into a T.
// Tiers are tried in order: the whole text, a fenced code block, the first
// object with at most one level of nesting, and the span from the first
// '{' to the last '}'.
func Extract[T any](text string) (T, error) {
	var zero T
	text = strings.TrimSpace(text)
	if text == "" {
		return zero, ErrNoStructuredData
	}

	if v, ok := decode[T](text); ok {
		return v, nil
	}
	if m := fencedObject.FindStringSubmatch(text); m != nil {
		if v, ok := decode[T](m[1]); ok {
			return v, nil
		}
	}
	if m := balancedObject.FindString(text); m != "" {
		if v, ok := decode[T](m); ok {
			return v, nil
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if v, ok := decode[T](text[start : end+1]); ok {
			return v, nil
		}
	}
	return zero, ErrNoStructuredData
}

// ParseStructured returns the value extracted from text, or def when
// extraction fails. def is returned as given and never modified.
func ParseStructured[T any](text string, def T) T {
	v, err := Extract[T](text)
	if err != nil {
		return def
	}
	return v
}

func decode[T any](s string) (T, bool) {
	var v T
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return v, false
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
