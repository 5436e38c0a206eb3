package models

import (
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Action names a tool a plan step is bound to.
type Action string

const (
	ActionQuery   Action = "query"
	ActionAnalyze Action = "analyze"
	ActionReport  Action = "report"
)

// Understanding is produced once per turn and not mutated afterwards.
type Understanding struct {
	IsDataQuery            bool       `json:"is_data_query"`
	NeedsClarification     bool       `json:"needs_clarification"`
	Intent                 string     `json:"intent"`
	Complexity             Complexity `json:"complexity"`
	ClarificationQuestions []string   `json:"clarification_questions,omitempty"`
	SuggestedQueries       []string   `json:"suggested_queries,omitempty"`
	RequiredInfo           []string   `json:"required_info,omitempty"`
	OutputFormat           string     `json:"output_format,omitempty"`
}

type Step struct {
	ID             string   `json:"id"`
	Action         Action   `json:"action"`
	Description    string   `json:"description"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
	Critical       bool     `json:"critical"`
	DependsOn      []string `json:"depends_on,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Optimization   string   `json:"optimization,omitempty"`
}

// Strategy is the output of the planner's strategic analysis phase.
type Strategy struct {
	UltimateGoal  string   `json:"ultimate_goal"`
	TablesNeeded  []string `json:"tables_needed,omitempty"`
	KeyColumns    []string `json:"key_columns,omitempty"`
	DataHandling  string   `json:"data_handling,omitempty"`
	Approach      string   `json:"approach"`
	Risks         []string `json:"risks,omitempty"`
	Optimizations []string `json:"optimizations,omitempty"`
}

// Plan steps run in list order. DependsOn is advisory and only ever
// references earlier step ids.
type Plan struct {
	Steps              []Step    `json:"steps"`
	Strategy           *Strategy `json:"strategy,omitempty"`
	RiskLevel          string    `json:"risk_level"`
	Confidence         float64   `json:"confidence"`
	SuccessProbability float64   `json:"success_probability"`
	EstimatedTime      string    `json:"estimated_time,omitempty"`
	Issues             []string  `json:"issues,omitempty"`
	Mitigations        []string  `json:"mitigations,omitempty"`
	// Fallbacks lists planner phases that fell back to their default.
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// ToolResult is the common result shape of every tool.
type ToolResult struct {
	Rows     int              `json:"rows,omitempty"`
	Columns  []string         `json:"columns,omitempty"`
	Data     []map[string]any `json:"data,omitempty"`
	Error    string           `json:"error,omitempty"`
	SQLUsed  string           `json:"sql_used,omitempty"`
	Attempts int              `json:"attempts,omitempty"`
	Output   string           `json:"output,omitempty"`
	Cached   bool             `json:"cached,omitempty"`
}

// ExecutionLogEntry is appended in step order and never mutated after append.
type ExecutionLogEntry struct {
	StepID        string      `json:"step_id"`
	StepNumber    string      `json:"step_number"`
	Thought       string      `json:"thought"`
	Action        Action      `json:"action"`
	Input         string      `json:"input,omitempty"`
	Observation   string      `json:"observation"`
	Status        Status      `json:"status"`
	ResultPreview string      `json:"result_preview,omitempty"`
	Attempts      int         `json:"attempts"`
	Error         string      `json:"error,omitempty"`
	ErrorClass    string      `json:"error_class,omitempty"`
	Result        *ToolResult `json:"-"`
}

// CriticalStepFailure records a critical step that exhausted its retries.
type CriticalStepFailure struct {
	StepID  string `json:"step_id"`
	Message string `json:"error"`
}

func (e *CriticalStepFailure) Error() string {
	return "critical step " + e.StepID + " failed: " + e.Message
}

type Execution struct {
	Log            []ExecutionLogEntry  `json:"execution_log"`
	CompletedSteps int                  `json:"completed_steps"`
	TotalSteps     int                  `json:"total_steps"`
	Halted         *CriticalStepFailure `json:"halted,omitempty"`
}

// DataResults returns successful results that carry rows, in step order.
func (e *Execution) DataResults() []*ToolResult {
	if e == nil {
		return nil
	}
	var out []*ToolResult
	for _, entry := range e.Log {
		if entry.Status == StatusSuccess && entry.Result != nil && len(entry.Result.Data) > 0 {
			out = append(out, entry.Result)
		}
	}
	return out
}

type Validation struct {
	Valid           bool     `json:"valid"`
	Confidence      float64  `json:"confidence"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Fallback        bool     `json:"fallback,omitempty"`
}

// ValidationFailure is attached to a turn when validation stayed invalid
// after every plan retry.
type ValidationFailure struct {
	Retries int      `json:"retries"`
	Issues  []string `json:"issues"`
}

func (e *ValidationFailure) Error() string {
	return "validation failed after plan retries"
}

type Interpretation struct {
	KeyMetrics       map[string]any     `json:"key_metrics"`
	Insights         []string           `json:"insights"`
	Trends           []string           `json:"trends,omitempty"`
	Anomalies        []string           `json:"anomalies,omitempty"`
	BusinessImpact   string             `json:"business_impact,omitempty"`
	Recommendations  []string           `json:"recommendations,omitempty"`
	ActualData       []map[string]any   `json:"actual_data,omitempty"`
	ValidationIssues *ValidationFailure `json:"validation_issues,omitempty"`
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type SchemaCacheEntry struct {
	TableName          string   `json:"table_name"`
	FullyQualifiedName string   `json:"fully_qualified_name"`
	Columns            []Column `json:"columns"`
	Relationships      []string `json:"relationships,omitempty"`
	Description        string   `json:"description,omitempty"`
	RowCount           int64    `json:"row_count,omitempty"`
	SizeBytes          int64    `json:"size_bytes,omitempty"`
}

func (e SchemaCacheEntry) ColumnNames() []string {
	names := make([]string, 0, len(e.Columns))
	for _, c := range e.Columns {
		names = append(names, c.Name)
	}
	return names
}

type DataSample struct {
	TableName     string            `json:"table_name"`
	Rows          []map[string]any  `json:"rows"`
	InferredTypes map[string]string `json:"inferred_types"`
}

// Stage is a state of the turn pipeline.
type Stage string

const (
	StageExplore     Stage = "explore"
	StageUnderstand  Stage = "understand"
	StagePlan        Stage = "plan"
	StageExecute     Stage = "execute"
	StageValidate    Stage = "validate"
	StageInterpret   Stage = "interpret"
	StageSynthesize  Stage = "synthesize"
	StageClarifyExit Stage = "clarify_exit"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

type StageRecord struct {
	Stage     Stage         `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Note      string        `json:"note,omitempty"`
}

type Session struct {
	ID        string    `json:"session_id"`
	ThreadID  string    `json:"thread_id"`
	StartedAt time.Time `json:"started_at"`
}

// TurnResult is the only value that leaves the orchestrator for a turn.
type TurnResult struct {
	Success            bool            `json:"success"`
	Query              string          `json:"query"`
	SessionID          string          `json:"session_id,omitempty"`
	NeedsClarification bool            `json:"needs_clarification,omitempty"`
	Understanding      *Understanding  `json:"understanding,omitempty"`
	Plan               *Plan           `json:"plan,omitempty"`
	Execution          *Execution      `json:"execution,omitempty"`
	Validation         *Validation     `json:"validation,omitempty"`
	Interpretation     *Interpretation `json:"interpretation,omitempty"`
	Response           string          `json:"response,omitempty"`
	Error              string          `json:"error,omitempty"`
	PlanRetries        int             `json:"plan_retries,omitempty"`
	Trace              []StageRecord   `json:"trace,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}
