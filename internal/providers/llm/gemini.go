package llm

import (
	"context"
	"errors"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type GeminiClient struct {
	client   *genai.Client
	model    string
	models   map[string]string
	attempts int
}

func NewGeminiClient(ctx context.Context, apiKey, model string, models map[string]string) (*GeminiClient, error) {
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiClient{client: c, model: model, models: models, attempts: 3}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	m := g.client.GenerativeModel(resolveModel(g.models, g.model, opts.Model))
	m.SetTemperature(float32(opts.Temperature))
	if opts.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	var text string
	err := retry(ctx, g.attempts, func() error {
		resp, err := m.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return err
		}
		text = firstText(resp)
		return nil
	}, retryableGoogle)
	if err != nil {
		return "", wrapErr(g.Name(), err)
	}
	return checkText(g.Name(), text)
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func retryableGoogle(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableStatus(gerr.Code)
	}
	return isTimeout(err)
}

func firstText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
