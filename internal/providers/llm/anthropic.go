package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicClient struct {
	APIKey string
	Model  string
	Models map[string]string
	URL    string
	HTTP   *http.Client
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	model := c.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	body := map[string]any{
		"model":       resolveModel(c.Models, model, opts.Model),
		"max_tokens":  maxTokens,
		"temperature": opts.Temperature,
		"messages": []map[string]any{{
			"role":    "user",
			"content": []map[string]string{{"type": "text", "text": prompt}},
		}},
	}
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := c.postJSON(ctx, body, &resp); err != nil {
		return "", wrapErr(c.Name(), err)
	}
	if len(resp.Content) == 0 {
		return "", wrapErr(c.Name(), errors.New("no content"))
	}
	return checkText(c.Name(), resp.Content[0].Text)
}

func (c *AnthropicClient) postJSON(ctx context.Context, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.URL
	if url == "" {
		url = anthropicURL
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	return retry(ctx, 3, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
		req.Header.Set("content-type", "application/json")
		res, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return json.NewDecoder(res.Body).Decode(out)
		}
		var eresp map[string]any
		_ = json.NewDecoder(res.Body).Decode(&eresp)
		return &statusError{Provider: "anthropic", Code: res.StatusCode, Body: eresp}
	}, retryableHTTP)
}
