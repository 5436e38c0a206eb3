package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to the OpenAI Chat Completions API or any endpoint
// compatible with it (Ollama's /v1, vLLM, LM Studio) when BaseURL is set.
type OpenAIClient struct {
	name     string
	client   *openai.Client
	model    string
	models   map[string]string
	attempts int
}

type OpenAIConfig struct {
	Name     string
	APIKey   string
	BaseURL  string
	Model    string
	Models   map[string]string
	Timeout  time.Duration
	Attempts int
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	return &OpenAIClient{
		name:     name,
		client:   openai.NewClientWithConfig(conf),
		model:    model,
		models:   cfg.Models,
		attempts: attempts,
	}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: resolveModel(c.models, c.model, opts.Model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	var content string
	err := retry(ctx, c.attempts, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, retryableOpenAI)
	if err != nil {
		return "", wrapErr(c.name, err)
	}
	return checkText(c.name, content)
}

func retryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return isTimeout(err)
}
