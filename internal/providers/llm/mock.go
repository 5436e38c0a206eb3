package llm

import (
	"context"
	"sync"
)

// MockClient is used when no real provider is configured, and by tests.
// Reply decides the completion; a nil Reply yields an empty-response error.
type MockClient struct {
	ProviderName string
	Reply        func(ctx context.Context, prompt string, opts Options) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockClient) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockClient) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", wrapErr(m.Name(), err)
	}
	if m.Reply == nil {
		return "", &ReasoningServiceError{Provider: m.Name(), Err: ErrEmptyResponse}
	}
	text, err := m.Reply(ctx, prompt, opts)
	if err != nil {
		return "", wrapErr(m.Name(), err)
	}
	return checkText(m.Name(), text)
}

// Calls returns the prompts received so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
