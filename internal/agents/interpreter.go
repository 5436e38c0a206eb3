package agents

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/structured"
)

const (
	actualDataRows   = 10
	resultsSummaryLn = 1000
)

type interpretationWire struct {
	KeyMetrics      map[string]any `json:"key_metrics"`
	Insights        []string       `json:"insights"`
	Trends          []string       `json:"trends"`
	Anomalies       []string       `json:"anomalies"`
	BusinessImpact  string         `json:"business_impact"`
	Recommendations []string       `json:"recommendations"`
}

// Interpreter extracts metrics and insights from the data produced during
// execution. ActualData and derived metrics come from the rows only.
type Interpreter struct {
	Reasoner Reasoner
	Logger   *zap.Logger
}

func (in *Interpreter) Interpret(ctx context.Context, query string, exec *models.Execution, v *models.Validation) *models.Interpretation {
	logger := in.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var actual []map[string]any
	results := exec.DataResults()
	if len(results) > 0 {
		actual = results[0].Data
		if len(actual) > actualDataRows {
			actual = actual[:actualDataRows]
		}
	}

	summary := make([]map[string]any, 0, len(results))
	for _, r := range results {
		summary = append(summary, map[string]any{"rows": r.Rows, "columns": r.Columns, "data": head(r.Data, actualDataRows)})
	}
	valid, confidence := false, 0.0
	if v != nil {
		valid, confidence = v.Valid, v.Confidence
	}

	prompt := fmt.Sprintf(`Interpret the data analysis results and extract key insights.

ORIGINAL QUERY: %s

EXECUTION RESULTS:
%s

VALIDATION:
- Valid: %t
- Confidence: %.2f

Extract and interpret FROM THE ACTUAL DATA:
1. Key metrics and numbers (use EXACT values from data)
2. Patterns and trends (based on actual data)
3. Anomalies or outliers (if present in data)
4. Business implications (derived from real numbers)
5. Actionable insights (based on data patterns)

Use ONLY the actual data provided. Do NOT make up numbers or insights.

Output as JSON:
{
    "key_metrics": {"metric_name": value},
    "insights": ["insight1", "insight2"],
    "trends": ["trend1", "trend2"],
    "anomalies": ["anomaly1"],
    "business_impact": "description",
    "recommendations": ["rec1", "rec2"]
}`, query, truncate(indentJSON(summary), resultsSummaryLn), valid, confidence)

	var w interpretationWire
	text, err := in.Reasoner.Invoke(ctx, llm.TaskInterpretation, prompt, 0.2, 400)
	if err != nil {
		logger.Warn("interpretation call failed, using default", zap.Error(err))
	} else {
		w = structured.ParseStructured(text, w)
	}
	if len(w.Insights) == 0 {
		w.Insights = []string{"Data analysis completed"}
	}
	if w.BusinessImpact == "" {
		w.BusinessImpact = "Results provide valuable information for decision making"
	}
	if len(w.Recommendations) == 0 {
		w.Recommendations = []string{"Review findings and take appropriate action"}
	}

	out := &models.Interpretation{
		KeyMetrics:      DeriveMetrics(actual),
		Insights:        w.Insights,
		Trends:          w.Trends,
		Anomalies:       w.Anomalies,
		BusinessImpact:  w.BusinessImpact,
		Recommendations: w.Recommendations,
		ActualData:      actual,
	}
	for k, val := range w.KeyMetrics {
		if _, exists := out.KeyMetrics[k]; exists {
			continue
		}
		if occursIn(val, actual) {
			out.KeyMetrics[k] = val
		} else {
			logger.Debug("dropping metric not present in data", zap.String("metric", k))
		}
	}
	logger.Info("interpretation", zap.Int("insights", len(out.Insights)), zap.Int("metrics", len(out.KeyMetrics)))
	return out
}

// DeriveMetrics returns the numeric columns of a single-row result.
func DeriveMetrics(rows []map[string]any) map[string]any {
	metrics := map[string]any{}
	if len(rows) != 1 {
		return metrics
	}
	for k, v := range rows[0] {
		if _, isStr := v.(string); isStr {
			continue
		}
		if _, ok := toFloat(v); ok {
			metrics[k] = v
		}
	}
	return metrics
}

// occursIn reports whether v equals some cell in rows, comparing numbers
// by value.
func occursIn(v any, rows []map[string]any) bool {
	want, isNum := toFloat(v)
	ws, isStr := v.(string)
	for _, row := range rows {
		for _, cell := range row {
			if isNum {
				if got, ok := toFloat(cell); ok && math.Abs(got-want) <= 1e-9*math.Max(1, math.Abs(want)) {
					return true
				}
			}
			if isStr {
				if cs, ok := cell.(string); ok && strings.EqualFold(cs, ws) {
					return true
				}
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func head(rows []map[string]any, n int) []map[string]any {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
