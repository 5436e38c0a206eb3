// Package tools holds the capabilities a plan step can be bound to.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/insight-orchestrator/internal/metrics"
	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
)

var ErrToolNotFound = errors.New("tool not found")

// Tool executes one input string and reports rows, columns, data or an
// error. Domain failures may come back either as Result.Error or as a
// returned error.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input string) (*models.ToolResult, error)
}

// Reasoner is the routed reasoning service as seen by tools.
type Reasoner interface {
	Invoke(ctx context.Context, task llm.Task, prompt string, temperature float64, maxTokens int) (string, error)
}

// ToolExecutionError is a failed tool call. Error() keeps the underlying
// message verbatim so it can be fed back into a repair prompt.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string { return e.Err.Error() }

func (e *ToolExecutionError) Unwrap() error { return e.Err }

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Describe renders "- name: description" lines for prompts.
func (r *Registry) Describe() string {
	var s string
	for i, t := range r.List() {
		if i > 0 {
			s += "\n"
		}
		s += fmt.Sprintf("- %s: %s", t.Name(), t.Description())
	}
	return s
}

// Execute runs the named tool and records its latency and outcome. A result
// carrying Error is returned together with a *ToolExecutionError.
func (r *Registry) Execute(ctx context.Context, name, input string) (*models.ToolResult, error) {
	t, ok := r.Get(name)
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(name, "not_found").Inc()
		return nil, &ToolExecutionError{Tool: name, Err: fmt.Errorf("%w: %s", ErrToolNotFound, name)}
	}
	start := time.Now()
	res, err := t.Execute(ctx, input)
	metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil && res != nil && res.Error != "" {
		err = errors.New(res.Error)
	}
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		var te *ToolExecutionError
		if !errors.As(err, &te) {
			err = &ToolExecutionError{Tool: name, Err: err}
		}
		return res, err
	}
	metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
	return res, nil
}
