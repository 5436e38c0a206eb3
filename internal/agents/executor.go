package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/metrics"
	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/tools"
)

const (
	DefaultMaxRetries = 2

	previewPerResult = 300
	previewTotal     = 2000
	resultPreviewLen = 200
)

// ReActExecutor runs plan steps strictly in order with a Think, Act,
// Observe cycle. Failed query steps are repaired by the reasoning service
// and retried up to MaxRetries times.
type ReActExecutor struct {
	Reasoner   Reasoner
	Tools      *tools.Registry
	MaxRetries int
	Logger     *zap.Logger
	// OnStep is called after each log entry is appended.
	OnStep func(models.ExecutionLogEntry)
}

func (e *ReActExecutor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *ReActExecutor) maxRetries() int {
	if e.MaxRetries < 0 {
		return 0
	}
	if e.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return e.MaxRetries
}

// Execute never returns an error: failures are recorded in the log and a
// failed critical step stops the remaining steps.
func (e *ReActExecutor) Execute(ctx context.Context, query string, plan *models.Plan, snap *cache.Snapshot) *models.Execution {
	exec := &models.Execution{TotalSteps: len(plan.Steps)}
	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			break
		}
		log := e.logger().With(zap.String("step_id", step.ID))
		entry := models.ExecutionLogEntry{
			StepID:     step.ID,
			StepNumber: fmt.Sprintf("%d/%d", i+1, len(plan.Steps)),
			Action:     step.Action,
		}

		entry.Thought = e.think(ctx, query, step, exec.Log)
		log.Debug("thought", zap.String("thought", truncate(entry.Thought, 100)))

		res, err := e.act(ctx, step, entry.Thought, snap, exec, &entry)
		entry.Observation = Observe(res, err)
		if err == nil && res != nil {
			entry.Status = models.StatusSuccess
			entry.Result = res
			entry.ResultPreview = truncate(compactJSON(res), resultPreviewLen)
			exec.CompletedSteps++
		} else {
			entry.Status = models.StatusFailed
			if err == nil {
				err = errors.New("no result")
			}
			entry.Error = err.Error()
			if res != nil {
				entry.ResultPreview = truncate(compactJSON(res), resultPreviewLen)
			}
		}
		log.Info("step finished", zap.String("status", string(entry.Status)),
			zap.Int("attempts", entry.Attempts), zap.String("observation", truncate(entry.Observation, 100)))

		exec.Log = append(exec.Log, entry)
		if e.OnStep != nil {
			e.OnStep(entry)
		}
		if entry.Status == models.StatusFailed && step.Critical {
			exec.Halted = &models.CriticalStepFailure{StepID: step.ID, Message: entry.Error}
			log.Error("critical step failed, stopping execution", zap.String("error", entry.Error))
			break
		}
	}
	return exec
}

func (e *ReActExecutor) think(ctx context.Context, query string, step models.Step, prior []models.ExecutionLogEntry) string {
	prompt := fmt.Sprintf(`Think about how to execute this step.

ORIGINAL QUERY: %s

CURRENT STEP:
- Action: %s
- Description: %s
- Expected: %s

PREVIOUS RESULTS:
%s

Think through:
1. What do I need to do?
2. What information do I have?
3. What tool should I use?
4. What input should I provide?

Provide your reasoning (2-3 sentences).`, query, step.Action, step.Description, step.ExpectedOutput, priorPreview(prior))

	thought, err := e.Reasoner.Invoke(ctx, llm.TaskThinking, prompt, 0.2, 200)
	if err != nil {
		e.logger().Warn("think failed", zap.String("step_id", step.ID), zap.Error(err))
		return "Execute step: " + step.Description
	}
	return strings.TrimSpace(thought)
}

// act prepares the tool input and runs the tool, repairing failed query
// inputs. At most maxRetries+1 tool calls are made.
func (e *ReActExecutor) act(ctx context.Context, step models.Step, thought string, snap *cache.Snapshot, exec *models.Execution, entry *models.ExecutionLogEntry) (*models.ToolResult, error) {
	name := string(step.Action)
	if _, ok := e.Tools.Get(name); !ok {
		e.logger().Warn("tool not found", zap.String("tool", name))
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
	}

	input := e.prepareInput(ctx, step, thought, snap, exec)
	maxRetries := e.maxRetries()
	for attempt := 1; ; attempt++ {
		entry.Input = input
		entry.Attempts = attempt
		res, err := e.Tools.Execute(ctx, name, input)
		if res != nil {
			res.Attempts = attempt
		}
		if err == nil {
			if attempt > 1 {
				e.logger().Info("step succeeded after repair", zap.String("step_id", step.ID), zap.Int("attempt", attempt))
			}
			entry.ErrorClass = ""
			return res, nil
		}
		class := ClassifyError(err.Error())
		entry.ErrorClass = class
		e.logger().Warn("tool call failed", zap.String("step_id", step.ID), zap.Int("attempt", attempt),
			zap.String("error_class", class), zap.Error(err))

		if step.Action != models.ActionQuery || attempt > maxRetries || ctx.Err() != nil {
			return res, err
		}
		fixed, ok := e.repair(ctx, input, err.Error(), class, snap)
		if !ok {
			metrics.RepairsTotal.WithLabelValues(class, "failed").Inc()
			return res, err
		}
		if fixed == input {
			metrics.RepairsTotal.WithLabelValues(class, "no_progress").Inc()
			return res, err
		}
		metrics.RepairsTotal.WithLabelValues(class, "retried").Inc()
		input = fixed
	}
}

func (e *ReActExecutor) prepareInput(ctx context.Context, step models.Step, thought string, snap *cache.Snapshot, exec *models.Execution) string {
	if step.Action == models.ActionQuery {
		return e.generateSQL(ctx, step, thought, snap)
	}

	prompt := fmt.Sprintf(`Generate the exact input for this tool.

STEP: %s
TOOL: %s
REASONING: %s

Return ONLY the tool input, no explanations.`, step.Description, step.Action, thought)
	input, err := e.Reasoner.Invoke(ctx, llm.TaskRouting, prompt, 0.1, 500)
	input = strings.TrimSpace(input)
	if err != nil || input == "" {
		input = step.Description
	}
	if data := exec.DataResults(); len(data) > 0 {
		rows := make([][]map[string]any, 0, len(data))
		for _, r := range data {
			rows = append(rows, r.Data)
		}
		input += "\n\nDATA:\n" + indentJSON(rows)
	}
	return input
}

func (e *ReActExecutor) generateSQL(ctx context.Context, step models.Step, thought string, snap *cache.Snapshot) string {
	prompt := fmt.Sprintf(`Generate a SQL query.

TASK: %s
REASONING: %s

DATABASE SCHEMA:
%s

TABLE RELATIONSHIPS:
%s

COMMON QUERY PATTERNS (use as reference):
%s

RULES:
1. Use only tables and columns listed in the schema, with the table names exactly as shown
2. Join only along the listed relationships
3. Cast TIMESTAMP columns before comparing them with dates
4. HAVING may only reference GROUP BY columns or aggregates
5. LIMIT results to 500 rows
6. Return ONLY the SQL query starting with SELECT or WITH, no explanations, no markdown

SQL:`, step.Description, thought, snap.Describe(), bullets(relationships(snap), "(none)"), bullets(commonQueries(snap), "(none)"))

	text, err := e.Reasoner.Invoke(ctx, llm.TaskSQLGeneration, prompt, 0.1, 500)
	sql := strings.TrimSuffix(stripFences(text), ";")
	if err == nil && tools.IsReadOnly(sql) {
		return sql
	}
	if first := snap.FirstTable(); first != "" {
		e.logger().Warn("generated text instead of SQL, using fallback query",
			zap.String("step_id", step.ID), zap.String("text", truncate(sql, 50)), zap.Error(err))
		return fmt.Sprintf("SELECT * FROM %s LIMIT 10", first)
	}
	return sql
}

// repair asks for a corrected query. It reports false when the reply is
// unusable.
func (e *ReActExecutor) repair(ctx context.Context, broken, errMsg, class string, snap *cache.Snapshot) (string, bool) {
	prompt := fmt.Sprintf(`You are a SQL expert. A query failed and you need to fix it.

BROKEN QUERY:
%s

ERROR MESSAGE:
%s

ERROR CLASS: %s

AVAILABLE SCHEMA:
%s

TABLE RELATIONSHIPS:
%s

COMMON ISSUES AND FIXES:
%s

TASK: Analyze the error and fix the SQL query.

RULES:
1. Return ONLY the fixed SQL query, nothing else
2. Do not add explanations or markdown
3. Fix the specific error mentioned
4. Use correct column names from the schema
5. Handle date/timestamp comparisons correctly

FIXED SQL:`, broken, errMsg, class, snap.Describe(), bullets(relationships(snap), "(none)"), fixCatalog)

	text, err := e.Reasoner.Invoke(ctx, llm.TaskSQLFixing, prompt, 0.1, 500)
	if err != nil {
		e.logger().Warn("repair call failed", zap.Error(err))
		return "", false
	}
	fixed := stripFences(text)
	if !tools.IsReadOnly(fixed) {
		e.logger().Warn("repair returned non-SQL text", zap.String("text", truncate(fixed, 50)))
		return "", false
	}
	return strings.TrimSuffix(fixed, ";"), true
}

// Observe summarizes a tool outcome in one line.
func Observe(res *models.ToolResult, err error) string {
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return "Action failed - " + err.Error()
	case err != nil:
		return "Error: " + err.Error()
	case res == nil:
		return "Action failed - no result"
	case res.SQLUsed != "":
		return fmt.Sprintf("Retrieved %d rows of data", res.Rows)
	case len(res.Data) > 0:
		return fmt.Sprintf("Data processed: %d items", len(res.Data))
	}
	return "Action completed: " + truncate(res.Output, 100)
}

// priorPreview renders earlier successful results as compact JSON within a
// fixed size budget.
func priorPreview(prior []models.ExecutionLogEntry) string {
	var b strings.Builder
	for _, p := range prior {
		if p.Status != models.StatusSuccess || p.Result == nil {
			continue
		}
		line := fmt.Sprintf("%s (%s): %s\n", p.StepID, p.Action, truncate(compactJSON(p.Result.Data), previewPerResult))
		if b.Len()+len(line) > previewTotal {
			break
		}
		b.WriteString(line)
	}
	if b.Len() == 0 {
		return "None"
	}
	return strings.TrimRight(b.String(), "\n")
}

func relationships(snap *cache.Snapshot) []string {
	if snap == nil {
		return nil
	}
	return snap.Relationships
}

func commonQueries(snap *cache.Snapshot) []string {
	if snap == nil {
		return nil
	}
	return snap.CommonQueries
}
