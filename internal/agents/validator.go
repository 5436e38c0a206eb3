package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/structured"
)

const (
	DefaultValidationAttempts = 3
	validationLogLimit        = 2000
)

var errIncompleteValidation = errors.New("validation response lacks valid or confidence")

type validationWire struct {
	Valid           *bool    `json:"valid"`
	Confidence      *float64 `json:"confidence"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// Validator scores an execution log.
type Validator struct {
	Reasoner Reasoner
	Attempts int
	Logger   *zap.Logger
}

// Validate retries while the call fails or the reply lacks valid and
// confidence, then falls back to a heuristic based on completed steps.
func (v *Validator) Validate(ctx context.Context, exec *models.Execution) *models.Validation {
	logger := v.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := v.Attempts
	if attempts <= 0 {
		attempts = DefaultValidationAttempts
	}

	prompt := fmt.Sprintf(`Validate the execution results.

EXECUTION LOG:
%s

RESULTS SUMMARY:
- Completed steps: %d
- Total steps: %d
- Steps attempted: %d

Validate:
1. Were all critical steps completed?
2. Are results consistent and logical?
3. Are there any errors or anomalies?
4. Is additional analysis needed?

Output as JSON:
{
    "valid": true/false,
    "confidence": 0.95,
    "issues": [],
    "recommendations": []
}`, truncate(indentJSON(exec.Log), validationLogLimit), exec.CompletedSteps, exec.TotalSteps, len(exec.Log))

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		text, err := v.Reasoner.Invoke(ctx, llm.TaskValidation, prompt, 0.1, 600)
		if err == nil {
			var w validationWire
			if w, err = structured.Extract[validationWire](text); err == nil {
				if w.Valid != nil && w.Confidence != nil {
					out := &models.Validation{
						Valid:           *w.Valid,
						Confidence:      clamp01(*w.Confidence),
						Issues:          w.Issues,
						Recommendations: w.Recommendations,
					}
					logger.Info("validation", zap.Bool("valid", out.Valid), zap.Float64("confidence", out.Confidence))
					return out
				}
				err = errIncompleteValidation
			}
		}
		logger.Warn("validation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	logger.Warn("using fallback validation")
	return FallbackValidation(exec)
}

// FallbackValidation is the heuristic used when the validation call never
// produced a usable reply.
func FallbackValidation(exec *models.Execution) *models.Validation {
	return &models.Validation{
		Valid:           exec.CompletedSteps > 0,
		Confidence:      0.7,
		Issues:          []string{"Validation stage encountered errors"},
		Recommendations: []string{"Review execution log manually"},
		Fallback:        true,
	}
}
