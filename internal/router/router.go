// Package router maps task categories to models and dispatches prompts to
// the configured reasoning providers, either through an ordered fallback
// chain or as a two-provider ensemble.
package router

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/insight-orchestrator/internal/metrics"
	"github.com/example/insight-orchestrator/internal/providers/llm"
)

type JoinMode string

const (
	// WaitAll waits for both ensemble calls to settle or time out.
	WaitAll JoinMode = "wait_all"
	// FirstSuccess returns the first successful call and cancels the other.
	FirstSuccess JoinMode = "first_success"
)

const DefaultEnsembleTimeout = 120 * time.Second

// Candidate is one provider's answer in an ensemble round.
type Candidate struct {
	Index    int
	Provider string
	Text     string
	Err      error
	Latency  time.Duration
}

// SelectFunc picks the winning answer among successful candidates, which
// are given in provider-chain order.
type SelectFunc func(candidates []Candidate) Candidate

// LongestResponse picks the candidate with the most characters. Ties go to
// the earlier provider.
func LongestResponse(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if utf8.RuneCountInString(strings.TrimSpace(c.Text)) > utf8.RuneCountInString(strings.TrimSpace(best.Text)) {
			best = c
		}
	}
	return best
}

// DefaultTaskTable is the built-in task category to model tier mapping.
func DefaultTaskTable() map[llm.Task]string {
	return map[llm.Task]string{
		llm.TaskUnderstanding:  llm.TierHighCapability,
		llm.TaskSynthesis:      llm.TierHighCapability,
		llm.TaskSQLGeneration:  llm.TierHighCapability,
		llm.TaskSQLFixing:      llm.TierHighCapability,
		llm.TaskPlanning:       llm.TierFast,
		llm.TaskValidation:     llm.TierFast,
		llm.TaskInterpretation: llm.TierFast,
		llm.TaskRouting:        llm.TierFast,
		llm.TaskAnalysis:       llm.TierFast,
		llm.TaskThinking:       llm.TierFast,
	}
}

type Config struct {
	// Tasks overrides entries of DefaultTaskTable.
	Tasks    map[string]string
	Ensemble bool
	Join     JoinMode
	Timeout  time.Duration
	Select   SelectFunc
	Logger   *zap.Logger
}

// Router holds no mutable state after New and is safe for concurrent use.
type Router struct {
	providers []llm.Client
	table     map[llm.Task]string
	ensemble  bool
	join      JoinMode
	timeout   time.Duration
	selectFn  SelectFunc
	logger    *zap.Logger
}

func New(providers []llm.Client, cfg Config) *Router {
	table := DefaultTaskTable()
	for task, model := range cfg.Tasks {
		if model = strings.TrimSpace(model); model != "" {
			table[llm.Task(task)] = model
		}
	}
	r := &Router{
		providers: append([]llm.Client(nil), providers...),
		table:     table,
		ensemble:  cfg.Ensemble,
		join:      cfg.Join,
		timeout:   cfg.Timeout,
		selectFn:  cfg.Select,
		logger:    cfg.Logger,
	}
	if r.join == "" {
		r.join = WaitAll
	}
	if r.timeout <= 0 {
		r.timeout = DefaultEnsembleTimeout
	}
	if r.selectFn == nil {
		r.selectFn = LongestResponse
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// ModelFor returns the model identifier for a task; unknown tasks get the
// fast tier.
func (r *Router) ModelFor(task llm.Task) string {
	if m, ok := r.table[task]; ok {
		return m
	}
	return llm.TierFast
}

// Providers returns the names of the configured providers in chain order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Invoke sends prompt using the model for task and the configured mode.
func (r *Router) Invoke(ctx context.Context, task llm.Task, prompt string, temperature float64, maxTokens int) (string, error) {
	opts := llm.Options{Model: r.ModelFor(task), Temperature: temperature, MaxTokens: maxTokens}
	if r.ensemble {
		return r.Ensemble(ctx, prompt, opts)
	}
	return r.Fallback(ctx, prompt, opts)
}

// Fallback tries each provider in order and fails only when all of them do.
func (r *Router) Fallback(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if len(r.providers) == 0 {
		return "", &llm.ReasoningServiceError{Provider: "router", Err: llm.ErrNoProviders}
	}
	var errs []error
	for i, p := range r.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		text, err := r.call(ctx, p, prompt, opts)
		if err == nil {
			if i > 0 {
				r.logger.Info("fallback provider answered", zap.String("provider", p.Name()), zap.Int("position", i))
			}
			return text, nil
		}
		r.logger.Warn("provider failed", zap.String("provider", p.Name()), zap.Error(err))
		errs = append(errs, err)
	}
	return "", &llm.ReasoningServiceError{Provider: "all", Err: errors.Join(errs...)}
}

// Ensemble sends prompt to the first two providers concurrently under the
// ensemble timeout and picks a winner with the selection policy. With fewer
// than two providers it behaves like Fallback.
func (r *Router) Ensemble(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if len(r.providers) < 2 {
		return r.Fallback(ctx, prompt, opts)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pair := r.providers[:2]
	results := make(chan Candidate, len(pair))
	var g errgroup.Group
	for i, p := range pair {
		g.Go(func() error {
			start := time.Now()
			text, err := r.call(ctx, p, prompt, opts)
			results <- Candidate{Index: i, Provider: p.Name(), Text: text, Err: err, Latency: time.Since(start)}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var ok []Candidate
	var errs []error
	for c := range results {
		if c.Err != nil {
			r.logger.Warn("ensemble member failed", zap.String("provider", c.Provider), zap.Error(c.Err))
			errs = append(errs, c.Err)
			continue
		}
		ok = append(ok, c)
		if r.join == FirstSuccess {
			cancel()
			break
		}
	}
	if len(ok) == 0 {
		return "", &llm.ReasoningServiceError{Provider: "ensemble", Err: errors.Join(errs...)}
	}
	sort.Slice(ok, func(a, b int) bool { return ok[a].Index < ok[b].Index })
	win := r.selectFn(ok)
	r.logger.Debug("ensemble selected", zap.String("provider", win.Provider), zap.Int("candidates", len(ok)))
	return win.Text, nil
}

func (r *Router) call(ctx context.Context, p llm.Client, prompt string, opts llm.Options) (string, error) {
	start := time.Now()
	text, err := p.Invoke(ctx, prompt, opts)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(p.Name(), opts.Model, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(p.Name(), opts.Model).Observe(time.Since(start).Seconds())
	return text, err
}
