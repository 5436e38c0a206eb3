package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/tools"
)

var errUnavailable = errors.New("reasoning service unavailable")

// scripted answers each task with its handler. n is the 1-based call count
// for that task. Tasks without a handler fail.
type scripted struct {
	mu       sync.Mutex
	handlers map[llm.Task]func(prompt string, n int) (string, error)
	calls    map[llm.Task]int
	prompts  map[llm.Task][]string
}

func newScripted(h map[llm.Task]func(prompt string, n int) (string, error)) *scripted {
	return &scripted{handlers: h, calls: map[llm.Task]int{}, prompts: map[llm.Task][]string{}}
}

func (s *scripted) Invoke(ctx context.Context, task llm.Task, prompt string, temperature float64, maxTokens int) (string, error) {
	s.mu.Lock()
	s.calls[task]++
	n := s.calls[task]
	s.prompts[task] = append(s.prompts[task], prompt)
	h := s.handlers[task]
	s.mu.Unlock()
	if h == nil {
		return "", errUnavailable
	}
	return h(prompt, n)
}

func (s *scripted) count(task llm.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[task]
}

func reply(text string) func(string, int) (string, error) {
	return func(string, int) (string, error) { return text, nil }
}

func ordersSource(t *testing.T) *datasource.SQLiteSource {
	t.Helper()
	src, err := datasource.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	ctx := context.Background()
	require.NoError(t, src.Exec(ctx, `CREATE TABLE orders (id INTEGER PRIMARY KEY, product TEXT, amount REAL)`))
	require.NoError(t, src.Exec(ctx, `INSERT INTO orders (id, product, amount) VALUES (1, 'A', 10), (2, 'B', 30), (3, 'A', 5)`))
	return src
}

func ordersSnapshot() *cache.Snapshot {
	return &cache.Snapshot{Tables: []models.SchemaCacheEntry{{
		TableName:          "orders",
		FullyQualifiedName: "orders",
		Columns:            []models.Column{{Name: "id", Type: "INTEGER"}, {Name: "product", Type: "TEXT"}, {Name: "amount", Type: "REAL"}},
	}}}
}

func newExecutor(t *testing.T, r Reasoner) *ReActExecutor {
	t.Helper()
	reg := tools.NewRegistry(&tools.QueryTool{Source: ordersSource(t)}, tools.NewReportTool())
	return &ReActExecutor{Reasoner: r, Tools: reg}
}

func queryPlan(critical bool, extra ...models.Step) *models.Plan {
	steps := []models.Step{{ID: "step1", Action: models.ActionQuery, Description: "revenue by product", Critical: critical}}
	return &models.Plan{Steps: append(steps, extra...)}
}

func TestPlannerNeverReturnsEmptyPlan(t *testing.T) {
	t.Parallel()
	r := newScripted(nil)
	plan := (&GeniusPlanner{Reasoner: r}).Plan(context.Background(), "top products", nil, nil, "- query: run SQL")

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "step1", plan.Steps[0].ID)
	assert.Equal(t, models.ActionQuery, plan.Steps[0].Action)
	assert.True(t, plan.Steps[0].Critical)
	assert.Equal(t, []string{PhaseStrategic, PhaseDecomposition, PhaseOptimization, PhaseValidation}, plan.Fallbacks)
	assert.Equal(t, "1 minute", plan.EstimatedTime)
	assert.Equal(t, "sequential", plan.Strategy.Approach)
	assert.InDelta(t, 0.8, plan.Confidence, 1e-9)
	assert.Equal(t, 4, r.count(llm.TaskPlanning))
}

func TestPlannerFinalizesSteps(t *testing.T) {
	t.Parallel()
	validated := `{"steps": [
		{"id": 1, "action": "SQL", "description": "fetch revenue", "critical": true},
		{"id": 2, "action": "visualize", "description": "draw a chart"},
		{"id": 3, "action": "analysis", "description": "analyze revenue", "depends_on": [1, 3, 4, "1"]},
		{"id": "step_4", "action": "summary", "purpose": "write it up", "depends_on": ["step_3", 1]}
	], "risk_level": "Medium", "confidence": 1.4, "issues": ["check dates"]}`
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskPlanning: func(prompt string, n int) (string, error) {
			switch n {
			case 1:
				return `{"ultimate_goal": "revenue", "approach": "Parallel"}`, nil
			case 2:
				return `{"atomic_steps": [{"step_id": 1, "action": "query", "description": "x"}]}`, nil
			case 3:
				return "```json\n" + `{"steps": [{"id": 1, "action": "query", "description": "x"}], "estimated_time": "10 seconds"}` + "\n```", nil
			}
			return validated, nil
		},
	})
	plan := (&GeniusPlanner{Reasoner: r}).Plan(context.Background(), "revenue", &models.Understanding{Intent: "revenue"}, nil, "")

	assert.Empty(t, plan.Fallbacks)
	assert.Equal(t, "parallel", plan.Strategy.Approach)
	assert.Equal(t, "10 seconds", plan.EstimatedTime)
	assert.Equal(t, "medium", plan.RiskLevel)
	assert.Equal(t, 1.0, plan.Confidence)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, "step1", plan.Steps[0].ID)
	assert.Equal(t, models.ActionQuery, plan.Steps[0].Action)
	assert.True(t, plan.Steps[0].Critical)

	assert.Equal(t, "step2", plan.Steps[1].ID)
	assert.Equal(t, models.ActionAnalyze, plan.Steps[1].Action)
	assert.False(t, plan.Steps[1].Critical)
	assert.Equal(t, []string{"step1"}, plan.Steps[1].DependsOn)

	assert.Equal(t, "step3", plan.Steps[2].ID)
	assert.Equal(t, models.ActionReport, plan.Steps[2].Action)
	assert.Equal(t, "write it up", plan.Steps[2].Description)
	assert.Equal(t, []string{"step1", "step2"}, plan.Steps[2].DependsOn)

	require.Len(t, plan.Issues, 2)
	assert.Equal(t, "check dates", plan.Issues[0])
	assert.Contains(t, plan.Issues[1], `"visualize"`)
}

func TestNormalizeAction(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]models.Action{
		"query": models.ActionQuery, " BigQuery ": models.ActionQuery,
		"analyse": models.ActionAnalyze, "reporting": models.ActionReport,
	} {
		got, ok := NormalizeAction(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := NormalizeAction("chart")
	assert.False(t, ok)
}

func TestExecutorRepairsUnknownColumn(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskThinking:      reply("Sum the amount per product."),
		llm.TaskSQLGeneration: reply("```sql\nSELECT product_id, SUM(amount) AS revenue FROM orders GROUP BY product_id;\n```"),
		llm.TaskSQLFixing:     reply("SELECT product, SUM(amount) AS revenue FROM orders GROUP BY product ORDER BY revenue DESC"),
	})
	var seen []models.ExecutionLogEntry
	e := newExecutor(t, r)
	e.OnStep = func(entry models.ExecutionLogEntry) { seen = append(seen, entry) }

	exec := e.Execute(context.Background(), "revenue by product", queryPlan(true), ordersSnapshot())

	require.Len(t, exec.Log, 1)
	entry := exec.Log[0]
	assert.Equal(t, models.StatusSuccess, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
	assert.Empty(t, entry.ErrorClass)
	assert.Equal(t, "Retrieved 2 rows of data", entry.Observation)
	assert.Equal(t, "Sum the amount per product.", entry.Thought)
	assert.Equal(t, 1, r.count(llm.TaskSQLFixing))
	assert.Contains(t, r.prompts[llm.TaskSQLFixing][0], "ERROR CLASS: unknown_column")
	assert.Equal(t, 1, exec.CompletedSteps)
	assert.Nil(t, exec.Halted)
	require.NotNil(t, entry.Result)
	assert.Equal(t, "B", entry.Result.Data[0]["product"])
	assert.Equal(t, 2, entry.Result.Attempts)
	assert.Len(t, seen, 1)
}

func TestExecutorBoundsRepairAttempts(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSQLGeneration: reply("SELECT missing0 FROM orders"),
		llm.TaskSQLFixing: func(_ string, n int) (string, error) {
			return fmt.Sprintf("SELECT missing%d FROM orders", n), nil
		},
	})
	exec := newExecutor(t, r).Execute(context.Background(), "q", queryPlan(false), ordersSnapshot())

	require.Len(t, exec.Log, 1)
	entry := exec.Log[0]
	assert.Equal(t, models.StatusFailed, entry.Status)
	assert.Equal(t, DefaultMaxRetries+1, entry.Attempts)
	assert.Equal(t, DefaultMaxRetries, r.count(llm.TaskSQLFixing))
	assert.Equal(t, ErrClassUnknownColumn, entry.ErrorClass)
	assert.Equal(t, "Execute step: revenue by product", entry.Thought)
	assert.True(t, strings.HasPrefix(entry.Observation, "Error: "))
}

func TestExecutorStopsWhenRepairMakesNoProgress(t *testing.T) {
	t.Parallel()
	broken := "SELECT missing FROM orders"
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSQLGeneration: reply(broken),
		llm.TaskSQLFixing:     reply(broken + ";"),
	})
	exec := newExecutor(t, r).Execute(context.Background(), "q", queryPlan(false), ordersSnapshot())

	require.Len(t, exec.Log, 1)
	assert.Equal(t, 1, exec.Log[0].Attempts)
	assert.Equal(t, 1, r.count(llm.TaskSQLFixing))
	assert.Equal(t, models.StatusFailed, exec.Log[0].Status)
}

func TestExecutorFallsBackToFirstTable(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSQLGeneration: reply("I cannot answer that."),
	})
	exec := newExecutor(t, r).Execute(context.Background(), "q", queryPlan(true), ordersSnapshot())

	require.Len(t, exec.Log, 1)
	assert.Equal(t, "SELECT * FROM orders LIMIT 10", exec.Log[0].Input)
	assert.Equal(t, models.StatusSuccess, exec.Log[0].Status)
}

func TestExecutorHaltsOnCriticalFailure(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSQLGeneration: reply("SELECT missing FROM orders"),
	})
	report := models.Step{ID: "step2", Action: models.ActionReport, Description: "# Summary"}
	exec := newExecutor(t, r).Execute(context.Background(), "q", queryPlan(true, report), ordersSnapshot())

	require.Len(t, exec.Log, 1)
	require.NotNil(t, exec.Halted)
	assert.Equal(t, "step1", exec.Halted.StepID)
	assert.Contains(t, exec.Halted.Message, "missing")
	assert.Equal(t, 2, exec.TotalSteps)
	assert.Equal(t, 0, exec.CompletedSteps)
}

func TestExecutorContinuesAfterNonCriticalFailure(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSQLGeneration: reply("SELECT missing FROM orders"),
		llm.TaskRouting:       reply("# Summary\n\nNothing to report."),
	})
	steps := []models.Step{
		{ID: "step2", Action: models.ActionReport, Description: "write report"},
		{ID: "step3", Action: "chart", Description: "draw"},
	}
	exec := newExecutor(t, r).Execute(context.Background(), "q", queryPlan(false, steps...), ordersSnapshot())

	require.Len(t, exec.Log, 3)
	assert.Nil(t, exec.Halted)
	for i, id := range []string{"step1", "step2", "step3"} {
		assert.Equal(t, id, exec.Log[i].StepID)
		assert.Equal(t, fmt.Sprintf("%d/3", i+1), exec.Log[i].StepNumber)
	}
	assert.Equal(t, models.StatusFailed, exec.Log[0].Status)
	assert.Equal(t, models.StatusSuccess, exec.Log[1].Status)
	assert.Equal(t, "Data processed: 1 items", exec.Log[1].Observation)
	assert.Equal(t, models.StatusFailed, exec.Log[2].Status)
	assert.Equal(t, "Action failed - tool not found: chart", exec.Log[2].Observation)
	assert.Equal(t, 1, exec.CompletedSteps)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		msg  string
		want string
	}{
		{"Unrecognized name: product_id at [1:8]", ErrClassUnknownColumn},
		{"SQL logic error: no such column: foo (1)", ErrClassUnknownColumn},
		{"Function not found: MONTH at [1:8]", ErrClassFunction},
		{"SELECT list expression references x which is neither grouped nor aggregated", ErrClassAggregation},
		{"ORDER BY clause expression references column y", ErrClassOrdering},
		{"No matching signature for operator >= for argument types: TIMESTAMP, STRING", ErrClassTypeMismatch},
		{`near "FORM": syntax error`, ErrClassSyntax},
		{"quota exceeded", ErrClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyError(tc.msg), tc.msg)
	}
}

func TestObserve(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Error: boom", Observe(nil, errors.New("boom")))
	assert.Equal(t, "Action failed - no result", Observe(nil, nil))
	assert.Equal(t, "Retrieved 7 rows of data", Observe(&models.ToolResult{SQLUsed: "SELECT 1", Rows: 7}, nil))
	assert.Equal(t, "Action completed: done", Observe(&models.ToolResult{Output: "done"}, nil))
}

func TestValidatorRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskValidation: func(_ string, n int) (string, error) {
			switch n {
			case 1:
				return "", errUnavailable
			case 2:
				return `{"valid": true}`, nil
			}
			return `{"valid": true, "confidence": 0.93, "issues": []}`, nil
		},
	})
	v := (&Validator{Reasoner: r}).Validate(context.Background(), &models.Execution{CompletedSteps: 1, TotalSteps: 1})

	assert.True(t, v.Valid)
	assert.InDelta(t, 0.93, v.Confidence, 1e-9)
	assert.False(t, v.Fallback)
	assert.Equal(t, 3, r.count(llm.TaskValidation))
}

func TestValidatorFallback(t *testing.T) {
	t.Parallel()
	r := newScripted(nil)
	v := (&Validator{Reasoner: r}).Validate(context.Background(), &models.Execution{CompletedSteps: 0, TotalSteps: 2})

	assert.True(t, v.Fallback)
	assert.False(t, v.Valid)
	assert.InDelta(t, 0.7, v.Confidence, 1e-9)
	assert.Equal(t, DefaultValidationAttempts, r.count(llm.TaskValidation))

	assert.True(t, FallbackValidation(&models.Execution{CompletedSteps: 1}).Valid)
}

func dataExecution(rows ...map[string]any) *models.Execution {
	return &models.Execution{
		CompletedSteps: 1,
		TotalSteps:     1,
		Log: []models.ExecutionLogEntry{{
			StepID: "step1",
			Status: models.StatusSuccess,
			Result: &models.ToolResult{Rows: len(rows), Data: rows, SQLUsed: "SELECT 1"},
		}},
	}
}

func TestInterpreterKeepsOnlyGroundedMetrics(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskInterpretation: reply(`{"key_metrics": {"total": 1234.5, "growth": 17, "leader": "a"}, "insights": ["Revenue is concentrated"]}`),
	})
	exec := dataExecution(map[string]any{"product": "A", "total": 1234.5, "orders": int64(3)})
	out := (&Interpreter{Reasoner: r}).Interpret(context.Background(), "revenue", exec, &models.Validation{Valid: true, Confidence: 0.9})

	assert.Equal(t, map[string]any{"total": 1234.5, "orders": int64(3), "leader": "a"}, out.KeyMetrics)
	assert.Equal(t, []string{"Revenue is concentrated"}, out.Insights)
	assert.Equal(t, "Results provide valuable information for decision making", out.BusinessImpact)
	require.Len(t, out.ActualData, 1)
}

func TestInterpreterDefaultsWithoutService(t *testing.T) {
	t.Parallel()
	rows := make([]map[string]any, 0, 15)
	for i := 0; i < 15; i++ {
		rows = append(rows, map[string]any{"n": int64(i)})
	}
	out := (&Interpreter{Reasoner: newScripted(nil)}).Interpret(context.Background(), "q", dataExecution(rows...), nil)

	assert.Len(t, out.ActualData, actualDataRows)
	assert.Empty(t, out.KeyMetrics)
	assert.Equal(t, []string{"Data analysis completed"}, out.Insights)
}

func TestUnderstandingDefaults(t *testing.T) {
	t.Parallel()
	u := (&Understander{Reasoner: newScripted(nil)}).Understand(context.Background(), "top products", "", nil)

	assert.True(t, u.IsDataQuery)
	assert.False(t, u.NeedsClarification)
	assert.Equal(t, "unclear", u.Intent)
	assert.Equal(t, models.ComplexitySimple, u.Complexity)
	assert.Equal(t, []string{defaultClarificationQuestion}, u.ClarificationQuestions)
	assert.Len(t, u.SuggestedQueries, 3)
}

func TestUnderstandingParsesReply(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskUnderstanding: reply(`Sure: {"is_data_query": false, "needs_clarification": false, "intent": "greeting", "complexity": "COMPLEX"}`),
	})
	u := (&Understander{Reasoner: r}).Understand(context.Background(), "hello", "Recent interactions:", ordersSnapshot())

	assert.False(t, u.IsDataQuery)
	assert.Equal(t, "greeting", u.Intent)
	assert.Equal(t, models.ComplexityComplex, u.Complexity)
	assert.Contains(t, r.prompts[llm.TaskUnderstanding][0], "- orders (id, product, amount)")
}

func TestBareQueryNeedsClarification(t *testing.T) {
	t.Parallel()
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskUnderstanding: reply(`{"is_data_query": false, "needs_clarification": false}`),
	})
	u := (&Understander{Reasoner: r}).Understand(context.Background(), " Data? ", "", nil)

	assert.True(t, u.IsDataQuery)
	assert.True(t, u.NeedsClarification)

	md := ClarificationResponse(u, ordersSnapshot())
	assert.True(t, strings.HasPrefix(md, "## I need some clarification"))
	assert.Contains(t, md, "1. "+defaultClarificationQuestion)
	assert.Contains(t, md, "- What are the top 10 products by revenue?")
	assert.Contains(t, md, "**Available data:**\n- orders (id, product, amount)")
}

func TestNonDataResponse(t *testing.T) {
	t.Parallel()
	assert.Contains(t, NonDataResponse(ordersSnapshot()), "orders")
	assert.True(t, strings.HasPrefix(NonDataResponse(nil), "This doesn't appear to be a data analysis query"))
}

func TestSynthesizer(t *testing.T) {
	t.Parallel()
	in := &models.Interpretation{
		KeyMetrics:      map[string]any{"total": 45.0},
		Insights:        []string{"A leads"},
		Recommendations: []string{"Stock more A"},
		ActualData:      []map[string]any{{"product": "A", "total": 15.0}, {"product": "B", "total": 30.0}},
	}
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSynthesis: reply("  B leads with 30.  "),
	})
	assert.Equal(t, "B leads with 30.", (&Synthesizer{Reasoner: r}).Synthesize(context.Background(), "revenue", in))
	assert.Contains(t, r.prompts[llm.TaskSynthesis][0], `1. {"product":"A","total":15}`)

	fallback := (&Synthesizer{Reasoner: newScripted(nil)}).Synthesize(context.Background(), "revenue", in)
	assert.Equal(t, FallbackSummary("revenue", in), fallback)
	assert.Contains(t, fallback, "## Results for: revenue")
	assert.Contains(t, fallback, "- total: 45")
	assert.Contains(t, fallback, "| product | total |")
	assert.Contains(t, fallback, "| B | 30 |")
	assert.Contains(t, fallback, "- Stock more A")
	assert.NotContains(t, fallback, "Validation issues")
}

func TestSynthesizerSurfacesValidationIssues(t *testing.T) {
	t.Parallel()
	in := &models.Interpretation{
		KeyMetrics:       map[string]any{"total": 45.0},
		ValidationIssues: &models.ValidationFailure{Retries: 2, Issues: []string{"totals look wrong"}},
	}
	r := newScripted(map[llm.Task]func(string, int) (string, error){
		llm.TaskSynthesis: reply("Total is 45."),
	})

	out := (&Synthesizer{Reasoner: r}).Synthesize(context.Background(), "revenue", in)
	assert.Equal(t, "Total is 45.\n\n**Validation issues:**\n- totals look wrong", out)
	assert.Contains(t, r.prompts[llm.TaskSynthesis][0], "VALIDATION ISSUES")
	assert.Contains(t, r.prompts[llm.TaskSynthesis][0], "- totals look wrong")

	fallback := FallbackSummary("revenue", in)
	assert.Contains(t, fallback, "**Validation issues:**\n- totals look wrong")

	in.ValidationIssues.Issues = nil
	assert.Contains(t, FallbackSummary("revenue", in), "- results could not be validated")
}

func TestStripFences(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SELECT 1", stripFences("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 2", stripFences("  SELECT 2 "))
}
