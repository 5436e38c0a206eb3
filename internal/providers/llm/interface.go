package llm

import (
	"context"
)

// Model tiers used by the task table. Providers map a tier to one of their
// concrete models; any other identifier is treated as a literal model name.
const (
	TierHighCapability = "high-capability"
	TierFast           = "fast"
)

// Task is the category of work a prompt belongs to.
type Task string

const (
	TaskUnderstanding  Task = "understanding"
	TaskSynthesis      Task = "synthesis"
	TaskSQLGeneration  Task = "sql_generation"
	TaskSQLFixing      Task = "sql_fixing"
	TaskPlanning       Task = "planning"
	TaskValidation     Task = "validation"
	TaskInterpretation Task = "interpretation"
	TaskRouting        Task = "routing"
	TaskAnalysis       Task = "analysis"
	TaskThinking       Task = "thinking"
)

// Options carries per-call generation settings.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client is a single reasoning-service provider.
// Invoke fails with *ReasoningServiceError on quota, network or empty responses.
type Client interface {
	Name() string
	Invoke(ctx context.Context, prompt string, opts Options) (string, error)
}

// resolveModel maps a requested tier or model name onto a concrete model.
func resolveModel(models map[string]string, def, requested string) string {
	if requested == "" {
		return def
	}
	if m, ok := models[requested]; ok && m != "" {
		return m
	}
	if requested == TierHighCapability || requested == TierFast {
		return def
	}
	return requested
}
