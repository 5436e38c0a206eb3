package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
)

const (
	defaultChunkChars  = 8000
	defaultOverlap     = 400
	defaultMaxParallel = 3
)

// AnalyzeTool asks the reasoning service for findings about its input.
// Input longer than ChunkChars is split into overlapping chunks that are
// analyzed with bounded concurrency, then combined in a reduce call.
type AnalyzeTool struct {
	Reasoner     Reasoner
	ChunkChars   int
	OverlapChars int
	MaxParallel  int
}

func (t *AnalyzeTool) Name() string { return string(models.ActionAnalyze) }

func (t *AnalyzeTool) Description() string {
	return "Analyze data or text from previous steps and report key findings, trends and anomalies"
}

func (t *AnalyzeTool) Execute(ctx context.Context, input string) (*models.ToolResult, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, errors.New("missing input to analyze")
	}
	chunk := t.ChunkChars
	if chunk <= 0 {
		chunk = defaultChunkChars
	}
	overlap := t.OverlapChars
	if overlap < 0 || overlap >= chunk {
		overlap = 0
	} else if overlap == 0 {
		overlap = min(defaultOverlap, chunk/4)
	}

	parts := splitChunks(text, chunk, overlap)
	var analysis string
	var err error
	if len(parts) == 1 {
		analysis, err = t.Reasoner.Invoke(ctx, llm.TaskAnalysis, analyzePrompt(text), 0.3, 800)
	} else {
		analysis, err = t.mapReduce(ctx, parts)
	}
	if err != nil {
		return nil, err
	}
	analysis = strings.TrimSpace(analysis)
	return &models.ToolResult{
		Output: analysis,
		Data:   []map[string]any{{"analysis": analysis}},
	}, nil
}

func (t *AnalyzeTool) mapReduce(ctx context.Context, parts []string) (string, error) {
	limit := t.MaxParallel
	if limit <= 0 {
		limit = defaultMaxParallel
	}
	out := make([]string, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range parts {
		g.Go(func() error {
			prompt := fmt.Sprintf("Summarize the key facts and figures in this section of data as 3-5 concise bullets.\n\nSection %d/%d:\n%s", i+1, len(parts), p)
			s, err := t.Reasoner.Invoke(gctx, llm.TaskAnalysis, prompt, 0.2, 400)
			if err != nil {
				return fmt.Errorf("section %d: %w", i+1, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Combine the following section summaries into one analysis. Keep every figure exactly as given, avoid repetition, and end with the most important findings.\n\nSummaries:")
	for i, s := range out {
		fmt.Fprintf(&b, "\n\n[Section %d]\n%s", i+1, strings.TrimSpace(s))
	}
	return t.Reasoner.Invoke(ctx, llm.TaskAnalysis, b.String(), 0.3, 800)
}

func analyzePrompt(text string) string {
	return `Analyze the following data and report the key findings.

DATA:
` + text + `

Cover:
1. Key figures (use the exact values present in the data)
2. Trends or patterns
3. Anomalies or outliers

Do not invent numbers that are not in the data.`
}

func splitChunks(s string, size, overlap int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(s); {
		end := runeStart(s, min(start+size, len(s)))
		if end <= start {
			// A single rune wider than size still makes progress.
			end = start + 1
			for end < len(s) && !utf8.RuneStart(s[end]) {
				end++
			}
		}
		out = append(out, s[start:end])
		if end == len(s) {
			break
		}
		next := runeStart(s, end-overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
