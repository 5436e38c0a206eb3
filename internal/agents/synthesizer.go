package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
)

const synthesisRows = 5

// Synthesizer writes the final answer from the interpretation.
type Synthesizer struct {
	Reasoner Reasoner
	Logger   *zap.Logger
}

// Synthesize falls back to FallbackSummary when the reasoning service
// fails.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, in *models.Interpretation) string {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var data strings.Builder
	if rows := head(in.ActualData, synthesisRows); len(rows) > 0 {
		data.WriteString("ACTUAL DATA (use these EXACT numbers):\n")
		for i, row := range rows {
			fmt.Fprintf(&data, "%d. %s\n", i+1, compactJSON(row))
		}
	}
	impact := in.BusinessImpact
	if impact == "" {
		impact = "Results provide valuable information"
	}
	caveat := validationSection(in)
	if caveat != "" {
		data.WriteString("\nVALIDATION ISSUES (the results did not pass validation; say so and name these issues):\n")
		data.WriteString(bullets(in.ValidationIssues.Issues, ""))
		data.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Generate a professional, comprehensive response using ACTUAL DATA.

ORIGINAL QUERY: %s

KEY METRICS:
%s

KEY INSIGHTS:
%s

BUSINESS IMPACT:
%s

RECOMMENDATIONS:
%s

%s
If actual data is provided above, use those EXACT numbers in your response.
Do NOT make up or estimate any numbers.

Generate a response that:
1. Directly answers the user's question
2. Provides key insights and findings
3. Includes relevant data points
4. Suggests next steps if applicable

Format as a well-structured response with an executive summary, key findings
(bullet points), detailed analysis and recommendations (if applicable).`,
		query, metricLines(in.KeyMetrics), bullets(in.Insights, "- Analysis completed successfully"),
		impact, bullets(in.Recommendations, "- Review findings"), data.String())

	text, err := s.Reasoner.Invoke(ctx, llm.TaskSynthesis, prompt, 0.3, 1024)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		logger.Warn("synthesis call failed, using summary", zap.Error(err))
		return FallbackSummary(query, in)
	}
	if caveat != "" {
		text += "\n\n" + caveat
	}
	return text
}

// FallbackSummary renders the interpretation as markdown without the
// reasoning service.
func FallbackSummary(query string, in *models.Interpretation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Results for: %s\n\n", query)
	if len(in.KeyMetrics) > 0 {
		b.WriteString("**Key metrics:**\n")
		b.WriteString(metricLines(in.KeyMetrics))
		b.WriteString("\n\n")
	}
	if len(in.Insights) > 0 {
		b.WriteString("**Findings:**\n")
		b.WriteString(bullets(in.Insights, ""))
		b.WriteString("\n\n")
	}
	if rows := head(in.ActualData, synthesisRows); len(rows) > 0 {
		b.WriteString("**Data:**\n\n")
		b.WriteString(markdownTable(rows))
		b.WriteString("\n")
	}
	if len(in.Recommendations) > 0 {
		b.WriteString("**Recommendations:**\n")
		b.WriteString(bullets(in.Recommendations, ""))
		b.WriteString("\n")
	}
	if caveat := validationSection(in); caveat != "" {
		b.WriteString("\n" + caveat)
	}
	return strings.TrimSpace(b.String())
}

// validationSection lists the issues of a result that stayed invalid after
// every plan retry, or returns "" when validation passed.
func validationSection(in *models.Interpretation) string {
	if in.ValidationIssues == nil {
		return ""
	}
	issues := in.ValidationIssues.Issues
	if len(issues) == 0 {
		issues = []string{"results could not be validated"}
	}
	return "**Validation issues:**\n" + bullets(issues, "")
}

func metricLines(m map[string]any) string {
	if len(m) == 0 {
		return "- (none)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, m[k]))
	}
	return strings.Join(lines, "\n")
}

func markdownTable(rows []map[string]any) string {
	colSet := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			colSet[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := r[c]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}
