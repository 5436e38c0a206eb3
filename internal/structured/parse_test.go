package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	Valid      *bool    `json:"valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

func TestExtractTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		confidence float64
	}{
		{
			name:       "direct",
			text:       `{"valid": true, "confidence": 0.9}`,
			confidence: 0.9,
		},
		{
			name:       "fenced json block",
			text:       "Here you go:\n```json\n{\"valid\": true, \"confidence\": 0.8}\n```\nThanks",
			confidence: 0.8,
		},
		{
			name:       "fenced block without language",
			text:       "```\n{\"valid\": false, \"confidence\": 0.4}\n```",
			confidence: 0.4,
		},
		{
			name:       "embedded object with one level of nesting",
			text:       `The result is {"valid": true, "confidence": 0.75, "meta": {"k": 1}} as requested.`,
			confidence: 0.75,
		},
		{
			name:       "first brace to last brace",
			text:       `Answer: {"valid": true, "confidence": 0.6, "meta": {"confidence": {"raw": "x"}}} done`,
			confidence: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := Extract[verdict](tt.text)
			require.NoError(t, err)
			require.NotNil(t, v.Valid)
			assert.InDelta(t, tt.confidence, v.Confidence, 1e-9)
		})
	}
}

func TestExtractFailures(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", "no json here", "{not: valid", "null", "{\"valid\": tru"} {
		_, err := Extract[verdict](text)
		assert.ErrorIs(t, err, ErrNoStructuredData, "text %q", text)
	}
}

func TestParseStructuredReturnsDefault(t *testing.T) {
	t.Parallel()

	def := verdict{Confidence: 0.7, Issues: []string{"Validation stage encountered errors"}}
	got := ParseStructured("I could not decide.", def)
	assert.Equal(t, def, got)
}

func TestParseStructuredIsIdempotent(t *testing.T) {
	t.Parallel()

	def := map[string]any{"steps": []any{"fallback"}}
	malformed := "```json\n{\"steps\": [\n```"

	first := ParseStructured(malformed, def)
	second := ParseStructured(malformed, def)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]any{"steps": []any{"fallback"}}, def)
}

func TestParseStructuredDoesNotLeakBetweenCalls(t *testing.T) {
	t.Parallel()

	def := map[string]any{"a": 1.0}
	got := ParseStructured(`{"b": 2}`, def)
	assert.Equal(t, map[string]any{"b": 2.0}, got)
	assert.Equal(t, map[string]any{"a": 1.0}, def)
}
