package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/config"
)

// NewFromConfig builds the ordered provider chain. Providers whose API key
// variable is configured but unset are skipped. An empty chain yields a
// single MockClient so the pipeline still runs on its fallback defaults.
func NewFromConfig(ctx context.Context, providers []config.ProviderConfig, logger *zap.Logger) []Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	var chain []Client
	for _, p := range providers {
		key := ""
		if p.APIKeyEnv != "" {
			key = strings.TrimSpace(os.Getenv(p.APIKeyEnv))
			if key == "" {
				logger.Warn("skipping provider without api key", zap.String("provider", p.Name), zap.String("env", p.APIKeyEnv))
				continue
			}
		}
		switch p.Kind {
		case "openai":
			if key == "" {
				// OpenAI-compatible local servers ignore the token.
				key = p.Name
			}
			chain = append(chain, NewOpenAIClient(OpenAIConfig{
				Name:    p.Name,
				APIKey:  key,
				BaseURL: p.BaseURL,
				Model:   p.Model,
				Models:  p.Models,
				Timeout: p.Timeout,
			}))
		case "gemini":
			c, err := NewGeminiClient(ctx, key, p.Model, p.Models)
			if err != nil {
				logger.Warn("gemini client init failed", zap.String("provider", p.Name), zap.Error(err))
				continue
			}
			chain = append(chain, c)
		case "anthropic":
			chain = append(chain, &AnthropicClient{APIKey: key, Model: p.Model, Models: p.Models, URL: p.BaseURL})
		case "mock":
			chain = append(chain, &MockClient{ProviderName: p.Name})
		default:
			logger.Warn("unknown provider kind", zap.String("provider", p.Name), zap.String("kind", p.Kind))
		}
	}
	if len(chain) == 0 {
		logger.Warn("no reasoning provider available, using mock client")
		chain = append(chain, &MockClient{})
	}
	return chain
}

// CloseAll releases every client that holds resources, such as the Gemini
// SDK connection.
func CloseAll(clients []Client) error {
	var errs []error
	for _, c := range clients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
