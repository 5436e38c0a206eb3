package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/structured"
)

// Plan phase names recorded in Plan.Fallbacks.
const (
	PhaseStrategic     = "strategic"
	PhaseDecomposition = "decomposition"
	PhaseOptimization  = "optimization"
	PhaseValidation    = "validation"
)

var actionSynonyms = map[string]models.Action{
	"query":     models.ActionQuery,
	"sql":       models.ActionQuery,
	"sql_query": models.ActionQuery,
	"bigquery":  models.ActionQuery,
	"database":  models.ActionQuery,
	"analyze":   models.ActionAnalyze,
	"analyse":   models.ActionAnalyze,
	"analysis":  models.ActionAnalyze,
	"report":    models.ActionReport,
	"reporting": models.ActionReport,
	"summary":   models.ActionReport,
}

// NormalizeAction maps an action name proposed by the model to a known
// action.
func NormalizeAction(raw string) (models.Action, bool) {
	a, ok := actionSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	return a, ok
}

type strategyWire struct {
	UltimateGoal  string   `json:"ultimate_goal"`
	TablesNeeded  []string `json:"tables_needed"`
	KeyColumns    []string `json:"key_columns"`
	DataHandling  string   `json:"data_handling"`
	Approach      string   `json:"approach"`
	Risks         []string `json:"risks"`
	Optimizations []string `json:"optimizations"`
}

type stepWire struct {
	ID             any    `json:"id"`
	StepID         any    `json:"step_id"`
	Action         string `json:"action"`
	Purpose        string `json:"purpose"`
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output"`
	Critical       *bool  `json:"critical"`
	DependsOn      []any  `json:"depends_on"`
	Reasoning      string `json:"reasoning"`
	Optimization   string `json:"optimization"`
}

type decompositionWire struct {
	AtomicSteps []stepWire `json:"atomic_steps"`
}

type optimizedWire struct {
	Steps         []stepWire `json:"steps"`
	EstimatedTime string     `json:"estimated_time"`
}

type validatedWire struct {
	Steps              []stepWire `json:"steps"`
	EstimatedTime      string     `json:"estimated_time"`
	RiskLevel          string     `json:"risk_level"`
	Confidence         *float64   `json:"confidence"`
	SuccessProbability *float64   `json:"success_probability"`
	Issues             []string   `json:"issues"`
	Mitigations        []string   `json:"mitigations"`
}

func defaultSteps() []stepWire {
	critical := true
	return []stepWire{{
		ID:             "1",
		Action:         string(models.ActionQuery),
		Description:    "Execute query",
		ExpectedOutput: "results",
		Critical:       &critical,
	}}
}

// GeniusPlanner builds a plan in four sequential phases: strategic
// analysis, decomposition, optimization and validation. Every phase has a
// deterministic default, so Plan never returns an empty plan.
type GeniusPlanner struct {
	Reasoner Reasoner
	Logger   *zap.Logger
}

func (p *GeniusPlanner) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Plan runs the phases for query. tools is the "- name: description"
// listing of the registered tools.
func (p *GeniusPlanner) Plan(ctx context.Context, query string, u *models.Understanding, samples map[string]models.DataSample, tools string) *models.Plan {
	plan := &models.Plan{}
	intent := "unknown"
	if u != nil && u.Intent != "" {
		intent = u.Intent
	}

	strategy := p.strategic(ctx, plan, query, intent, samples)
	plan.Strategy = strategy

	steps := p.decompose(ctx, plan, query, strategy, tools)
	optimized := p.optimize(ctx, plan, steps)
	p.validate(ctx, plan, optimized, intent)

	p.logger().Info("plan ready", zap.Int("steps", len(plan.Steps)),
		zap.Float64("confidence", plan.Confidence), zap.Strings("fallbacks", plan.Fallbacks))
	return plan
}

// phase invokes the planning model and decodes the reply, reporting false
// when the phase must fall back.
func phase[T any](ctx context.Context, p *GeniusPlanner, name, prompt string, temperature float64, maxTokens int) (T, bool) {
	var zero T
	text, err := p.Reasoner.Invoke(ctx, llm.TaskPlanning, prompt, temperature, maxTokens)
	if err != nil {
		p.logger().Warn("plan phase failed", zap.String("phase", name), zap.Error(err))
		return zero, false
	}
	v, err := structured.Extract[T](text)
	if err != nil {
		p.logger().Warn("plan phase unparseable", zap.String("phase", name), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (p *GeniusPlanner) strategic(ctx context.Context, plan *models.Plan, query, intent string, samples map[string]models.DataSample) *models.Strategy {
	prompt := fmt.Sprintf(`Strategic analysis of this data query.

QUERY: %s
INTENT: %s

DATA SAMPLES (actual formats):
%s

THINK STRATEGICALLY:
1. Ultimate goal?
2. Which tables and columns?
3. Data types to handle (TIMESTAMP, etc)?
4. Sequential or parallel approach?
5. Risks and optimizations?

Output JSON:
{
    "ultimate_goal": "objective",
    "tables_needed": ["table1"],
    "key_columns": ["col1"],
    "data_handling": "TIMESTAMP casting needed",
    "approach": "sequential",
    "risks": ["risk1"],
    "optimizations": ["opt1"]
}`, query, intent, sampleInfo(samples))

	w, ok := phase[strategyWire](ctx, p, PhaseStrategic, prompt, 0.3, 600)
	if !ok {
		plan.Fallbacks = append(plan.Fallbacks, PhaseStrategic)
	}
	s := &models.Strategy{
		UltimateGoal:  w.UltimateGoal,
		TablesNeeded:  w.TablesNeeded,
		KeyColumns:    w.KeyColumns,
		DataHandling:  w.DataHandling,
		Approach:      strings.ToLower(strings.TrimSpace(w.Approach)),
		Risks:         w.Risks,
		Optimizations: w.Optimizations,
	}
	if s.UltimateGoal == "" {
		s.UltimateGoal = "Execute query"
	}
	if s.Approach != "parallel" {
		s.Approach = "sequential"
	}
	return s
}

func (p *GeniusPlanner) decompose(ctx context.Context, plan *models.Plan, query string, s *models.Strategy, tools string) []stepWire {
	prompt := fmt.Sprintf(`Decompose into atomic steps.

QUERY: %s
GOAL: %s
APPROACH: %s

TOOLS:
%s

PRINCIPLES:
- Each step = ONE action
- Filter early, aggregate late
- Mark critical steps

Return ONLY valid JSON, no explanations.

Output JSON:
{
    "atomic_steps": [
        {
            "step_id": 1,
            "action": "query",
            "purpose": "why",
            "description": "what",
            "critical": true
        }
    ]
}

ACTION must be: query, analyze, or report`, query, s.UltimateGoal, s.Approach, tools)

	w, ok := phase[decompositionWire](ctx, p, PhaseDecomposition, prompt, 0.2, 800)
	if !ok || len(w.AtomicSteps) == 0 {
		plan.Fallbacks = append(plan.Fallbacks, PhaseDecomposition)
		return defaultSteps()
	}
	return w.AtomicSteps
}

func (p *GeniusPlanner) optimize(ctx context.Context, plan *models.Plan, steps []stepWire) []stepWire {
	prompt := fmt.Sprintf(`Optimize this plan.

STEPS:
%s

OPTIMIZE:
- Combine queries
- Use CTEs
- Minimize data movement

Output JSON:
{
    "steps": [
        {
            "id": 1,
            "action": "query",
            "description": "detailed",
            "expected_output": "what",
            "critical": true,
            "depends_on": [],
            "reasoning": "why",
            "optimization": "what optimized"
        }
    ],
    "estimated_time": "30 seconds"
}

ACTION must be: query, analyze, or report`, indentJSON(steps))

	w, ok := phase[optimizedWire](ctx, p, PhaseOptimization, prompt, 0.2, 800)
	if !ok || len(w.Steps) == 0 {
		plan.Fallbacks = append(plan.Fallbacks, PhaseOptimization)
		plan.EstimatedTime = "1 minute"
		return defaultSteps()
	}
	plan.EstimatedTime = w.EstimatedTime
	return w.Steps
}

func (p *GeniusPlanner) validate(ctx context.Context, plan *models.Plan, optimized []stepWire, intent string) {
	prompt := fmt.Sprintf(`Validate this plan.

INTENT: %s

PLAN:
%s

CHECK:
- Achieves goal?
- Valid tools? (query/analyze/report)
- Logical order? Dependencies only on earlier steps?
- Handles failures?

Output JSON:
{
    "steps": [...validated...],
    "estimated_time": "time",
    "risk_level": "low",
    "confidence": 0.95,
    "success_probability": 0.9,
    "issues": [],
    "mitigations": []
}`, intent, indentJSON(map[string]any{"steps": optimized, "estimated_time": plan.EstimatedTime}))

	plan.RiskLevel = "low"
	plan.Confidence = 0.8
	plan.SuccessProbability = 0.8

	steps := optimized
	w, ok := phase[validatedWire](ctx, p, PhaseValidation, prompt, 0.1, 800)
	if !ok {
		plan.Fallbacks = append(plan.Fallbacks, PhaseValidation)
	} else {
		steps = w.Steps
		if len(steps) == 0 {
			plan.Fallbacks = append(plan.Fallbacks, PhaseValidation)
			steps = defaultSteps()
		} else {
			if w.RiskLevel != "" {
				plan.RiskLevel = strings.ToLower(w.RiskLevel)
			}
			if w.Confidence != nil {
				plan.Confidence = *w.Confidence
			}
			if w.SuccessProbability != nil {
				plan.SuccessProbability = *w.SuccessProbability
			}
		}
		if w.EstimatedTime != "" {
			plan.EstimatedTime = w.EstimatedTime
		}
		plan.Issues = append(plan.Issues, w.Issues...)
		plan.Mitigations = w.Mitigations
	}
	plan.Confidence = clamp01(plan.Confidence)
	plan.SuccessProbability = clamp01(plan.SuccessProbability)
	plan.Steps = finalizeSteps(plan, steps)
}

// finalizeSteps normalizes actions, renumbers ids step1..stepN and keeps
// only dependencies on earlier steps. Steps with unknown actions are dropped
// and recorded as plan issues; if none survive, the default step is used.
func finalizeSteps(plan *models.Plan, raw []stepWire) []models.Step {
	type kept struct {
		w      stepWire
		action models.Action
	}
	var survivors []kept
	for i, w := range raw {
		a, ok := NormalizeAction(w.Action)
		if !ok {
			plan.Issues = append(plan.Issues, fmt.Sprintf("step %d dropped: unsupported action %q", i+1, w.Action))
			continue
		}
		survivors = append(survivors, kept{w: w, action: a})
	}
	if len(survivors) == 0 {
		d := defaultSteps()[0]
		survivors = []kept{{w: d, action: models.ActionQuery}}
	}

	idMap := map[string]int{}
	for i, k := range survivors {
		if id := rawID(k.w); id != "" {
			if _, dup := idMap[id]; !dup {
				idMap[id] = i
			}
		}
	}

	steps := make([]models.Step, 0, len(survivors))
	for i, k := range survivors {
		desc := strings.TrimSpace(k.w.Description)
		if desc == "" {
			desc = strings.TrimSpace(k.w.Purpose)
		}
		if desc == "" {
			desc = "Execute " + string(k.action)
		}
		reasoning := k.w.Reasoning
		if reasoning == "" {
			reasoning = k.w.Purpose
		}
		step := models.Step{
			ID:             fmt.Sprintf("step%d", i+1),
			Action:         k.action,
			Description:    desc,
			ExpectedOutput: k.w.ExpectedOutput,
			Critical:       k.w.Critical != nil && *k.w.Critical,
			Reasoning:      reasoning,
			Optimization:   k.w.Optimization,
		}
		seen := map[int]bool{}
		for _, d := range k.w.DependsOn {
			j, ok := idMap[idString(d)]
			if !ok || j >= i || seen[j] {
				continue
			}
			seen[j] = true
			step.DependsOn = append(step.DependsOn, fmt.Sprintf("step%d", j+1))
		}
		sort.Strings(step.DependsOn)
		steps = append(steps, step)
	}
	return steps
}

func rawID(w stepWire) string {
	if id := idString(w.ID); id != "" {
		return id
	}
	return idString(w.StepID)
}

// idString renders an id the model may emit as a number or a string.
func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "step_"), "step")
		return s
	default:
		return fmt.Sprint(t)
	}
}

func sampleInfo(samples map[string]models.DataSample) string {
	if len(samples) == 0 {
		return "(no samples available)"
	}
	names := make([]string, 0, len(samples))
	for n := range samples {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("- %s: %s", n, compactJSON(samples[n].InferredTypes)))
	}
	return strings.Join(lines, "\n")
}
