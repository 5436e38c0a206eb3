package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/structured"
)

const defaultClarificationQuestion = "Could you please clarify what data you'd like to analyze?"

var defaultSuggestedQueries = []string{
	"What are the top 10 products by revenue?",
	"Analyze customer segments by country",
	"Show sales trends for the last quarter",
}

type understandingWire struct {
	IsDataQuery            *bool    `json:"is_data_query"`
	NeedsClarification     *bool    `json:"needs_clarification"`
	Intent                 string   `json:"intent"`
	RequiredInfo           []string `json:"required_info"`
	Complexity             string   `json:"complexity"`
	OutputFormat           string   `json:"output_format"`
	ClarificationsNeeded   []string `json:"clarifications_needed"`
	ClarificationQuestions []string `json:"clarification_questions"`
	SuggestedQueries       []string `json:"suggested_queries"`
}

// Understander classifies the user's query.
type Understander struct {
	Reasoner Reasoner
	Logger   *zap.Logger
}

// Understand never fails: an unusable response yields the default
// understanding, which treats the query as a clear data query.
func (u *Understander) Understand(ctx context.Context, query, memoryContext string, snap *cache.Snapshot) *models.Understanding {
	logger := u.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if memoryContext == "" {
		memoryContext = "No previous context"
	}
	prompt := fmt.Sprintf(`You are a professional data analysis assistant.

CONVERSATION CONTEXT:
%s

CURRENT QUERY:
%s

AVAILABLE DATA:
%s

Analyze this query carefully:
1. Is it a valid data analysis request? (not just "status", "history", greetings, etc.)
2. Is it clear what data or analysis the user wants?
3. What is the primary intent?
4. What clarifications are needed?

Almost never set "needs_clarification": true. The schema and data samples are
available, so make reasonable assumptions about dates, statuses and metrics.
Only set it when the query is literally just "data" or "help".

Output as JSON:
{
    "is_data_query": true/false,
    "needs_clarification": true/false,
    "intent": "primary goal or 'unclear'",
    "required_info": ["item1", "item2"],
    "complexity": "simple/medium/complex",
    "output_format": "table/chart/report",
    "clarifications_needed": ["question1", "question2"],
    "suggested_queries": ["example1", "example2"]
}`, memoryContext, query, availableData(snap))

	var wire understandingWire
	text, err := u.Reasoner.Invoke(ctx, llm.TaskUnderstanding, prompt, 0.1, 600)
	if err != nil {
		logger.Warn("understanding call failed, using default", zap.Error(err))
	} else if wire, err = structured.Extract[understandingWire](text); err != nil {
		logger.Warn("understanding response unparseable, using default", zap.Error(err))
	}

	out := &models.Understanding{
		IsDataQuery:            true,
		Intent:                 strings.TrimSpace(wire.Intent),
		Complexity:             normalizeComplexity(wire.Complexity),
		RequiredInfo:           wire.RequiredInfo,
		OutputFormat:           wire.OutputFormat,
		ClarificationQuestions: wire.ClarificationsNeeded,
		SuggestedQueries:       wire.SuggestedQueries,
	}
	if len(out.ClarificationQuestions) == 0 {
		out.ClarificationQuestions = wire.ClarificationQuestions
	}
	if wire.IsDataQuery != nil {
		out.IsDataQuery = *wire.IsDataQuery
	}
	if wire.NeedsClarification != nil {
		out.NeedsClarification = *wire.NeedsClarification
	}
	if out.Intent == "" {
		out.Intent = "unclear"
	}
	if out.OutputFormat == "" {
		out.OutputFormat = "text"
	}
	if IsBareQuery(query) {
		out.IsDataQuery = true
		out.NeedsClarification = true
	}
	if len(out.ClarificationQuestions) == 0 {
		out.ClarificationQuestions = []string{defaultClarificationQuestion}
	}
	if len(out.SuggestedQueries) == 0 {
		out.SuggestedQueries = append([]string(nil), defaultSuggestedQueries...)
	}
	logger.Info("understanding", zap.String("intent", out.Intent),
		zap.Bool("data_query", out.IsDataQuery), zap.Bool("needs_clarification", out.NeedsClarification))
	return out
}

// IsBareQuery reports whether the query is only "data" or "help", which
// always needs clarification.
func IsBareQuery(query string) bool {
	q := strings.Trim(strings.ToLower(strings.TrimSpace(query)), "?!. ")
	return q == "data" || q == "help"
}

func normalizeComplexity(s string) models.Complexity {
	switch c := models.Complexity(strings.ToLower(strings.TrimSpace(s))); c {
	case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex:
		return c
	}
	return models.ComplexitySimple
}

// ClarificationResponse renders the markdown returned on a clarification
// exit.
func ClarificationResponse(u *models.Understanding, snap *cache.Snapshot) string {
	var b strings.Builder
	b.WriteString("## I need some clarification\n\n")
	if len(u.ClarificationQuestions) > 0 {
		b.WriteString("**Questions:**\n\n")
		for i, q := range u.ClarificationQuestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		b.WriteString("\n")
	}
	if len(u.SuggestedQueries) > 0 {
		b.WriteString("**Here are some example queries you can try:**\n\n")
		for _, s := range u.SuggestedQueries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	b.WriteString("**Available data:**\n")
	b.WriteString(availableData(snap))
	b.WriteString("\n")
	return b.String()
}

// NonDataResponse is the fixed answer to a query that is not about data.
func NonDataResponse(snap *cache.Snapshot) string {
	names := snap.TableNames()
	if len(names) == 0 {
		return "This doesn't appear to be a data analysis query. Please ask a question about the data available in the connected data source."
	}
	return fmt.Sprintf("This doesn't appear to be a data analysis query. Please ask about the available data: %s.", strings.Join(names, ", "))
}

// availableData lists each table with up to six of its columns.
func availableData(snap *cache.Snapshot) string {
	if snap == nil || len(snap.Tables) == 0 {
		return "- (schema not explored yet)"
	}
	lines := make([]string, 0, len(snap.Tables))
	for _, t := range snap.Tables {
		cols := t.ColumnNames()
		more := ""
		if len(cols) > 6 {
			cols, more = cols[:6], ", ..."
		}
		lines = append(lines, fmt.Sprintf("- %s (%s%s)", t.TableName, strings.Join(cols, ", "), more))
	}
	return strings.Join(lines, "\n")
}
