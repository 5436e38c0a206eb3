// Package agents holds the LLM-driven turn stages: understanding, planning,
// ReAct execution, validation, interpretation and synthesis.
package agents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/example/insight-orchestrator/internal/providers/llm"
)

// Reasoner is the routed reasoning service. *router.Router satisfies it.
type Reasoner interface {
	Invoke(ctx context.Context, task llm.Task, prompt string, temperature float64, maxTokens int) (string, error)
}

var fenceRe = regexp.MustCompile("(?s)```(?:sql|json)?\\s*(.*?)\\s*```")

// stripFences returns the body of the first fenced block, or the trimmed
// text when it has none.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "```") {
		if m := fenceRe.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

func bullets(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
