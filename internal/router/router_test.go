package router

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/insight-orchestrator/internal/providers/llm"
)

func fixed(name, text string) *llm.MockClient {
	return &llm.MockClient{ProviderName: name, Reply: func(context.Context, string, llm.Options) (string, error) {
		return text, nil
	}}
}

func failing(name string) *llm.MockClient {
	return &llm.MockClient{ProviderName: name, Reply: func(context.Context, string, llm.Options) (string, error) {
		return "", errors.New("quota exceeded")
	}}
}

func blocking(name string, cancelled *atomic.Bool) *llm.MockClient {
	return &llm.MockClient{ProviderName: name, Reply: func(ctx context.Context, _ string, _ llm.Options) (string, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return "", ctx.Err()
	}}
}

func TestModelFor(t *testing.T) {
	t.Parallel()

	r := New(nil, Config{Tasks: map[string]string{"planning": "high-capability", "custom": "gpt-4o"}})

	assert.Equal(t, llm.TierHighCapability, r.ModelFor(llm.TaskUnderstanding))
	assert.Equal(t, llm.TierHighCapability, r.ModelFor(llm.TaskSynthesis))
	assert.Equal(t, llm.TierHighCapability, r.ModelFor(llm.TaskSQLGeneration))
	assert.Equal(t, llm.TierFast, r.ModelFor(llm.TaskValidation))
	assert.Equal(t, llm.TierFast, r.ModelFor(llm.TaskRouting))
	assert.Equal(t, llm.TierHighCapability, r.ModelFor(llm.TaskPlanning))
	assert.Equal(t, "gpt-4o", r.ModelFor(llm.Task("custom")))
	assert.Equal(t, llm.TierFast, r.ModelFor(llm.Task("unknown")))
}

func TestInvokePassesOptions(t *testing.T) {
	t.Parallel()

	var got llm.Options
	p := &llm.MockClient{Reply: func(_ context.Context, _ string, opts llm.Options) (string, error) {
		got = opts
		return "ok", nil
	}}
	r := New([]llm.Client{p}, Config{})

	out, err := r.Invoke(context.Background(), llm.TaskSQLFixing, "fix it", 0.1, 500)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, llm.Options{Model: llm.TierHighCapability, Temperature: 0.1, MaxTokens: 500}, got)
}

func TestFallbackUsesNextProvider(t *testing.T) {
	t.Parallel()

	first := failing("ollama")
	second := fixed("gemini", "answer")
	third := fixed("anthropic", "unused")
	r := New([]llm.Client{first, second, third}, Config{})

	out, err := r.Invoke(context.Background(), llm.TaskPlanning, "p", 0.2, 100)
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Len(t, first.Calls(), 1)
	assert.Len(t, second.Calls(), 1)
	assert.Empty(t, third.Calls())
	assert.Equal(t, []string{"ollama", "gemini", "anthropic"}, r.Providers())
}

func TestFallbackAllFail(t *testing.T) {
	t.Parallel()

	r := New([]llm.Client{failing("a"), failing("b")}, Config{})

	_, err := r.Invoke(context.Background(), llm.TaskPlanning, "p", 0.2, 100)
	var rse *llm.ReasoningServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, "all", rse.Provider)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestFallbackWithoutProviders(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}).Invoke(context.Background(), llm.TaskPlanning, "p", 0, 0)
	assert.ErrorIs(t, err, llm.ErrNoProviders)
}

func TestEnsemblePicksLongerResponse(t *testing.T) {
	t.Parallel()

	short := strings.Repeat("x", 50)
	long := strings.Repeat("y", 200)

	for _, order := range [][]llm.Client{
		{fixed("X", short), fixed("Y", long)},
		{fixed("Y", long), fixed("X", short)},
	} {
		r := New(order, Config{Ensemble: true})
		out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0.3, 1024)
		require.NoError(t, err)
		assert.Equal(t, long, out)
	}
}

func TestEnsembleTieGoesToFirstProvider(t *testing.T) {
	t.Parallel()

	r := New([]llm.Client{fixed("a", "same"), fixed("b", "SAME")}, Config{Ensemble: true})
	out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "same", out)
}

func TestEnsembleOneFails(t *testing.T) {
	t.Parallel()

	r := New([]llm.Client{failing("a"), fixed("b", "survivor")}, Config{Ensemble: true})
	out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "survivor", out)
}

func TestEnsembleBothFail(t *testing.T) {
	t.Parallel()

	r := New([]llm.Client{failing("a"), failing("b")}, Config{Ensemble: true})
	_, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	var rse *llm.ReasoningServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, "ensemble", rse.Provider)
}

func TestEnsembleTimeoutKeepsSettledAnswer(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	r := New([]llm.Client{blocking("slow", &cancelled), fixed("fast", "quick")}, Config{
		Ensemble: true,
		Join:     WaitAll,
		Timeout:  50 * time.Millisecond,
	})

	out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "quick", out)
	assert.True(t, cancelled.Load())
}

func TestEnsembleFirstSuccessCancelsLoser(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	r := New([]llm.Client{blocking("slow", &cancelled), fixed("fast", "quick")}, Config{
		Ensemble: true,
		Join:     FirstSuccess,
		Timeout:  time.Minute,
	})

	start := time.Now()
	out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "quick", out)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Eventually(t, cancelled.Load, time.Second, 10*time.Millisecond)
}

func TestEnsembleCustomSelectPolicy(t *testing.T) {
	t.Parallel()

	shortest := func(cs []Candidate) Candidate {
		best := cs[0]
		for _, c := range cs[1:] {
			if len(c.Text) < len(best.Text) {
				best = c
			}
		}
		return best
	}
	r := New([]llm.Client{fixed("a", "a long answer"), fixed("b", "short")}, Config{Ensemble: true, Select: shortest})
	out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "short", out)
}

func TestEnsembleWithSingleProviderFallsBack(t *testing.T) {
	t.Parallel()

	r := New([]llm.Client{fixed("only", "solo")}, Config{Ensemble: true})
	out, err := r.Invoke(context.Background(), llm.TaskSynthesis, "p", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "solo", out)
}
