// Package orchestrator runs a conversational turn through the stage pipeline:
// explore, understand, plan, execute, validate, interpret and synthesize,
// with an early clarification exit and a bounded validate-to-plan retry.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/agents"
	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/config"
	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/metrics"
	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/tools"
)

const DefaultMaxPlanRetries = 2

// Turn outcomes reported on the turns metric.
const (
	outcomeAnswered  = "answered"
	outcomeClarified = "clarified"
	outcomeNonData   = "non_data"
	outcomeFailed    = "failed"
)

// SessionOrchestrationError is reported when a turn cannot complete: a
// stage panicked or the turn context ended.
type SessionOrchestrationError struct {
	SessionID string
	Stage     models.Stage
	Err       error
}

func (e *SessionOrchestrationError) Error() string {
	return fmt.Sprintf("session %s: %s stage: %v", e.SessionID, e.Stage, e.Err)
}

func (e *SessionOrchestrationError) Unwrap() error { return e.Err }

type Config struct {
	Reasoner agents.Reasoner
	// Source may be nil, in which case exploration and sampling are skipped.
	Source datasource.Source
	Schema *cache.SchemaCache
	Tools  *tools.Registry
	Hub    *Hub
	Agent  config.AgentConfig
	Logger *zap.Logger
}

type Orchestrator struct {
	reasoner agents.Reasoner
	source   datasource.Source
	schema   *cache.SchemaCache
	tools    *tools.Registry
	hub      *Hub
	agent    config.AgentConfig
	logger   *zap.Logger

	understander *agents.Understander
	planner      *agents.GeniusPlanner
	validator    *agents.Validator
	interpreter  *agents.Interpreter
	synthesizer  *agents.Synthesizer

	mu       sync.RWMutex
	sessions map[string]*session
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	schema := cfg.Schema
	if schema == nil {
		schema = cache.NewSchemaCache(cache.SchemaOptions{Logger: logger})
	}
	registry := cfg.Tools
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Orchestrator{
		reasoner:     cfg.Reasoner,
		source:       cfg.Source,
		schema:       schema,
		tools:        registry,
		hub:          hub,
		agent:        cfg.Agent,
		logger:       logger,
		understander: &agents.Understander{Reasoner: cfg.Reasoner, Logger: logger.Named("understand")},
		planner:      &agents.GeniusPlanner{Reasoner: cfg.Reasoner, Logger: logger.Named("plan")},
		validator:    &agents.Validator{Reasoner: cfg.Reasoner, Logger: logger.Named("validate")},
		interpreter:  &agents.Interpreter{Reasoner: cfg.Reasoner, Logger: logger.Named("interpret")},
		synthesizer:  &agents.Synthesizer{Reasoner: cfg.Reasoner, Logger: logger.Named("synthesize")},
		sessions:     map[string]*session{},
	}
}

func (o *Orchestrator) Hub() *Hub { return o.hub }

// Subscribe returns a channel carrying JSON-encoded progress events for a
// session. The caller must call the returned unsubscribe func when done.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan []byte, func()) {
	return o.hub.Subscribe(sessionID)
}

func (o *Orchestrator) maxPlanRetries() int {
	if o.agent.MaxPlanRetries < 0 {
		return 0
	}
	if o.agent.MaxPlanRetries == 0 {
		return DefaultMaxPlanRetries
	}
	return o.agent.MaxPlanRetries
}

// turn carries the per-turn stage outputs. It is discarded when the turn
// ends; only the memory append outlives it.
type turn struct {
	session *session
	query   string
	result  *models.TurnResult
	snap    *cache.Snapshot
	outcome string
	failure *models.ValidationFailure
	logger  *zap.Logger
}

// Process runs one turn for the session. An unknown sessionID starts a new
// session with that id. Process never panics: failures are reported as a
// TurnResult with Success false.
func (o *Orchestrator) Process(ctx context.Context, sessionID, query string) (result *models.TurnResult) {
	s := o.sessionFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++

	t := &turn{
		session: s,
		query:   query,
		result:  &models.TurnResult{Query: query, SessionID: s.info.ID, Timestamp: time.Now().UTC()},
		logger:  o.logger.With(zap.String("session_id", s.info.ID), zap.Int("turn", s.turns)),
	}
	t.logger.Info("turn started", zap.String("query", query))

	stage := models.StageExplore
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("stage panicked", zap.String("stage", string(stage)),
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			o.fail(t, &SessionOrchestrationError{SessionID: s.info.ID, Stage: stage, Err: fmt.Errorf("panic: %v", r)})
		}
		o.finish(t)
		result = t.result
	}()

	for {
		if err := ctx.Err(); err != nil && stage != models.StageDone && stage != models.StageClarifyExit {
			o.fail(t, &SessionOrchestrationError{SessionID: s.info.ID, Stage: stage, Err: err})
			return
		}
		next := o.runStage(ctx, t, stage)
		if stage == models.StageDone || stage == models.StageClarifyExit {
			return
		}
		stage = next
	}
}

// runStage runs a single stage with its trace record, metric and events,
// and returns the next stage.
func (o *Orchestrator) runStage(ctx context.Context, t *turn, stage models.Stage) models.Stage {
	sid := t.session.info.ID
	start := time.Now()
	o.hub.Publish(sid, Event{Event: EventStageStarted, Payload: map[string]any{"stage": stage}})

	var next models.Stage
	var note string
	switch stage {
	case models.StageExplore:
		next, note = o.explore(ctx, t)
	case models.StageUnderstand:
		next, note = o.understand(ctx, t)
	case models.StagePlan:
		next, note = o.plan(ctx, t)
	case models.StageExecute:
		next, note = o.execute(ctx, t)
	case models.StageValidate:
		next, note = o.validate(ctx, t)
	case models.StageInterpret:
		next, note = o.interpret(ctx, t)
	case models.StageSynthesize:
		next, note = o.synthesize(ctx, t)
	case models.StageClarifyExit:
		next, note = o.clarifyExit(t)
	case models.StageDone:
		next, note = o.done(t)
	default:
		panic(fmt.Sprintf("unknown stage %q", stage))
	}

	d := time.Since(start)
	t.result.Trace = append(t.result.Trace, models.StageRecord{Stage: stage, StartedAt: start.UTC(), Duration: d, Note: note})
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	t.logger.Debug("stage completed", zap.String("stage", string(stage)), zap.Duration("duration", d), zap.String("note", note))
	o.hub.Publish(sid, Event{Event: EventStageCompleted, Payload: map[string]any{
		"stage": stage, "duration_ms": d.Milliseconds(), "note": note,
	}})
	return next
}

func (o *Orchestrator) explore(ctx context.Context, t *turn) (models.Stage, string) {
	if !o.agent.EnableExploration || o.source == nil {
		t.snap, _ = o.schema.Cached()
		return models.StageUnderstand, "exploration disabled"
	}
	snap, err := o.schema.Explore(ctx, o.source)
	if err != nil {
		t.logger.Warn("schema exploration failed, continuing without schema", zap.Error(err))
		return models.StageUnderstand, "exploration failed: " + err.Error()
	}
	t.snap = snap
	return models.StageUnderstand, fmt.Sprintf("%d tables", len(snap.Tables))
}

func (o *Orchestrator) understand(ctx context.Context, t *turn) (models.Stage, string) {
	u := o.understander.Understand(ctx, t.query, t.session.memory.Context(), t.snap)
	t.result.Understanding = u
	switch {
	case u.NeedsClarification && !t.session.clarified:
		return models.StageClarifyExit, "needs clarification"
	case !u.IsDataQuery:
		t.result.Response = agents.NonDataResponse(t.snap)
		t.outcome = outcomeNonData
		return models.StageDone, "not a data query"
	}
	return models.StagePlan, "intent: " + u.Intent
}

func (o *Orchestrator) plan(ctx context.Context, t *turn) (models.Stage, string) {
	// With exploration off only already cached samples are used.
	samples, _ := o.schema.CachedSamples()
	if o.agent.EnableExploration && o.source != nil {
		var err error
		if samples, err = o.schema.Samples(ctx, o.source); err != nil {
			t.logger.Warn("data samples unavailable", zap.Error(err))
		}
	}
	p := o.planner.Plan(ctx, t.query, t.result.Understanding, samples, o.tools.Describe())
	t.result.Plan = p
	return models.StageExecute, fmt.Sprintf("%d steps", len(p.Steps))
}

func (o *Orchestrator) execute(ctx context.Context, t *turn) (models.Stage, string) {
	sid := t.session.info.ID
	executor := &agents.ReActExecutor{
		Reasoner:   o.reasoner,
		Tools:      o.tools,
		MaxRetries: o.agent.MaxRepairRetries,
		Logger:     t.logger.Named("execute"),
		OnStep: func(e models.ExecutionLogEntry) {
			o.hub.Publish(sid, Event{Event: EventStepCompleted, Payload: e})
		},
	}
	exec := executor.Execute(ctx, t.query, t.result.Plan, t.snap)
	t.result.Execution = exec
	note := fmt.Sprintf("%d/%d steps completed", exec.CompletedSteps, exec.TotalSteps)
	if exec.Halted != nil {
		note += ", halted at " + exec.Halted.StepID
	}
	return models.StageValidate, note
}

func (o *Orchestrator) validate(ctx context.Context, t *turn) (models.Stage, string) {
	v := o.validator.Validate(ctx, t.result.Execution)
	t.result.Validation = v
	if v.Valid {
		return models.StageInterpret, fmt.Sprintf("valid, confidence %.2f", v.Confidence)
	}
	if t.result.PlanRetries < o.maxPlanRetries() {
		t.result.PlanRetries++
		metrics.PlanRetriesTotal.Inc()
		t.logger.Warn("validation failed, replanning", zap.Int("retry", t.result.PlanRetries), zap.Strings("issues", v.Issues))
		return models.StagePlan, fmt.Sprintf("invalid, retry %d", t.result.PlanRetries)
	}
	t.failure = &models.ValidationFailure{Retries: t.result.PlanRetries, Issues: v.Issues}
	t.logger.Warn("validation failed after retries, continuing with partial results", zap.Error(t.failure))
	return models.StageInterpret, "invalid, retries exhausted"
}

func (o *Orchestrator) interpret(ctx context.Context, t *turn) (models.Stage, string) {
	in := o.interpreter.Interpret(ctx, t.query, t.result.Execution, t.result.Validation)
	in.ValidationIssues = t.failure
	t.result.Interpretation = in
	return models.StageSynthesize, fmt.Sprintf("%d insights", len(in.Insights))
}

func (o *Orchestrator) synthesize(ctx context.Context, t *turn) (models.Stage, string) {
	t.result.Response = o.synthesizer.Synthesize(ctx, t.query, t.result.Interpretation)
	t.outcome = outcomeAnswered
	return models.StageDone, ""
}

func (o *Orchestrator) clarifyExit(t *turn) (models.Stage, string) {
	t.session.clarified = true
	t.result.NeedsClarification = true
	t.result.Success = true
	t.result.Response = agents.ClarificationResponse(t.result.Understanding, t.snap)
	t.session.memory.Add(t.query, t.result.Response)
	t.outcome = outcomeClarified
	return models.StageClarifyExit, ""
}

func (o *Orchestrator) done(t *turn) (models.Stage, string) {
	t.result.Success = true
	t.session.memory.Add(t.query, t.result.Response)
	return models.StageDone, ""
}

func (o *Orchestrator) fail(t *turn, err *SessionOrchestrationError) {
	t.result.Success = false
	t.result.Error = err.Error()
	t.outcome = outcomeFailed
	t.result.Trace = append(t.result.Trace, models.StageRecord{Stage: models.StageFailed, StartedAt: time.Now().UTC(), Note: err.Err.Error()})
	t.logger.Error("turn failed", zap.String("stage", string(err.Stage)), zap.Error(err.Err))
}

func (o *Orchestrator) finish(t *turn) {
	if t.outcome == "" {
		t.outcome = outcomeFailed
	}
	metrics.TurnsTotal.WithLabelValues(t.outcome).Inc()
	t.logger.Info("turn completed", zap.String("outcome", t.outcome), zap.Bool("success", t.result.Success),
		zap.Int("plan_retries", t.result.PlanRetries))
	o.hub.Publish(t.session.info.ID, Event{Event: EventTurnCompleted, Payload: map[string]any{
		"success":             t.result.Success,
		"outcome":             t.outcome,
		"needs_clarification": t.result.NeedsClarification,
		"plan_retries":        t.result.PlanRetries,
		"error":               t.result.Error,
	}})
}
