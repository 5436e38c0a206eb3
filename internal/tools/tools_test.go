package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/models"
	"github.com/example/insight-orchestrator/internal/providers/llm"
)

type reasonerFunc func(ctx context.Context, task llm.Task, prompt string) (string, error)

func (f reasonerFunc) Invoke(ctx context.Context, task llm.Task, prompt string, temperature float64, maxTokens int) (string, error) {
	return f(ctx, task, prompt)
}

func seededSource(t *testing.T) *datasource.SQLiteSource {
	t.Helper()
	src, err := datasource.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	ctx := context.Background()
	require.NoError(t, src.Exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, country TEXT)`))
	require.NoError(t, src.Exec(ctx, `INSERT INTO users (id, country) VALUES (1, 'US'), (2, 'DE'), (3, 'US')`))
	return src
}

func TestQueryTool(t *testing.T) {
	qc, err := cache.NewQueryCache(8)
	require.NoError(t, err)
	tool := &QueryTool{Source: seededSource(t), Cache: qc, MaxRows: 2}
	ctx := context.Background()

	res, err := tool.Execute(ctx, "SELECT id, country FROM users ORDER BY id;")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, []string{"id", "country"}, res.Columns)
	assert.Equal(t, "SELECT id, country FROM users ORDER BY id", res.SQLUsed)
	assert.False(t, res.Cached)

	again, err := tool.Execute(ctx, "  SELECT id, country FROM users ORDER BY id ")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int64(1), qc.Stats().Hits)

	for _, stmt := range []string{
		"DELETE FROM users",
		"WITH x AS (SELECT 1) DELETE FROM users WHERE id = 1",
		"SELECT 1; DELETE FROM users WHERE id = 2",
	} {
		_, err = tool.Execute(ctx, stmt)
		assert.ErrorIs(t, err, ErrNotReadOnly, stmt)
	}
	count, err := tool.Execute(ctx, "SELECT COUNT(*) AS n FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.Data[0]["n"])

	_, err = tool.Execute(ctx, "SELECT product_id FROM users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product_id")
	assert.Equal(t, 2, qc.Stats().Entries, "failed queries are not cached")
}

func TestIsReadOnly(t *testing.T) {
	t.Parallel()
	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"select * from t", true},
		{"SELECT 1;", true},
		{"SELECT 1; -- done", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"WITH RECURSIVE x(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM x WHERE n < 3), y AS (SELECT 2) SELECT * FROM x, y", true},
		{"WITH x AS MATERIALIZED (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1) UNION ALL (SELECT 2)", true},
		{"SELECT 'a; DELETE FROM t' AS s", true},
		{`SELECT "weird;name" FROM t`, true},
		{"SELECT REPLACE(name, 'a', 'b') FROM t", true},
		{"UPDATE t SET a = 1", false},
		{"DROP TABLE t", false},
		{"", false},
		{"-- only a comment", false},
		{"WITH x AS (SELECT 1) DELETE FROM users WHERE id = 1", false},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", false},
		{"WITH x AS (SELECT 1)", false},
		{"SELECT 1; DELETE FROM users WHERE id = 2", false},
		{"SELECT 1;DROP TABLE t;", false},
		{"SELECT 1 /* ; */; UPDATE t SET a = 1", false},
		{"SELECT 'it''s'; DELETE FROM t", false},
		{`SELECT 'a\'; DELETE FROM t; --'`, false},
		{"(DELETE FROM t)", false},
		{"SELECT (1", false},
		{"SELECT 'open", false},
		{"SELECT 1 /* open", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsReadOnly(tc.sql), tc.sql)
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry(&QueryTool{Source: seededSource(t)}, NewReportTool())
	ctx := context.Background()

	names := []string{}
	for _, tl := range reg.List() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{"query", "report"}, names)
	assert.Contains(t, reg.Describe(), "- query: Run a read-only SQL query")

	_, err := reg.Execute(ctx, "missing", "x")
	var te *ToolExecutionError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = reg.Execute(ctx, "query", "SELECT nope FROM users")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "query", te.Tool)
	assert.Contains(t, err.Error(), "nope")

	res, err := reg.Execute(ctx, "query", "SELECT COUNT(*) AS n FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Data[0]["n"])
}

type errorResultTool struct{}

func (errorResultTool) Name() string        { return "broken" }
func (errorResultTool) Description() string { return "always reports an error" }
func (errorResultTool) Execute(ctx context.Context, input string) (*models.ToolResult, error) {
	return &models.ToolResult{Error: "Unrecognized name: product_id"}, nil
}

func TestRegistryTreatsResultErrorAsFailure(t *testing.T) {
	reg := NewRegistry(errorResultTool{})
	res, err := reg.Execute(context.Background(), "broken", "x")
	require.Error(t, err)
	assert.Equal(t, "Unrecognized name: product_id", err.Error())
	require.NotNil(t, res)
}

func TestAnalyzeToolSingleCall(t *testing.T) {
	var tasks []llm.Task
	tool := &AnalyzeTool{Reasoner: reasonerFunc(func(ctx context.Context, task llm.Task, prompt string) (string, error) {
		tasks = append(tasks, task)
		assert.Contains(t, prompt, `[{"n": 3}]`)
		return "  Three users in total.  ", nil
	})}

	res, err := tool.Execute(context.Background(), `[{"n": 3}]`)
	require.NoError(t, err)
	assert.Equal(t, "Three users in total.", res.Output)
	assert.Equal(t, []map[string]any{{"analysis": "Three users in total."}}, res.Data)
	assert.Equal(t, []llm.Task{llm.TaskAnalysis}, tasks)

	_, err = tool.Execute(context.Background(), "   ")
	assert.Error(t, err)
}

func TestAnalyzeToolMapReduce(t *testing.T) {
	var active, peak atomic.Int32
	var mu sync.Mutex
	var reducePrompt string
	tool := &AnalyzeTool{
		ChunkChars:   100,
		OverlapChars: -1,
		MaxParallel:  2,
		Reasoner: reasonerFunc(func(ctx context.Context, task llm.Task, prompt string) (string, error) {
			if strings.HasPrefix(prompt, "Combine") {
				mu.Lock()
				reducePrompt = prompt
				mu.Unlock()
				return "combined", nil
			}
			n := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			return "bullet", nil
		}),
	}

	res, err := tool.Execute(context.Background(), strings.Repeat("x", 450))
	require.NoError(t, err)
	assert.Equal(t, "combined", res.Output)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Contains(t, reducePrompt, "[Section 5]")
}

func TestAnalyzeToolMapFailure(t *testing.T) {
	tool := &AnalyzeTool{
		ChunkChars:   10,
		OverlapChars: -1,
		Reasoner: reasonerFunc(func(ctx context.Context, task llm.Task, prompt string) (string, error) {
			return "", errors.New("quota exceeded")
		}),
	}
	_, err := tool.Execute(context.Background(), strings.Repeat("y", 35))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestSplitChunks(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"abc"}, splitChunks("abc", 10, 2))
	assert.Equal(t, []string{"abcd", "defg", "gh"}, splitChunks("abcdefgh", 4, 1))
	assert.Equal(t, []string{"日", "本", "語"}, splitChunks("日本語", 2, 0))

	text := "héllo wörld, ñandú über straße"
	assert.Equal(t, text, strings.Join(splitChunks(text, 3, 0), ""))
	for _, chunk := range splitChunks(text, 5, 2) {
		assert.True(t, utf8.ValidString(chunk), "%q", chunk)
	}
}

func TestReportTool(t *testing.T) {
	tool := NewReportTool()
	res, err := tool.Execute(context.Background(), "# Revenue\n\nTotal revenue was **1200**.\n\n| country | users |\n|---|---|\n| US | 2 |\n")
	require.NoError(t, err)
	htmlOut := res.Data[0]["html"].(string)
	assert.Contains(t, htmlOut, "<h1>Revenue</h1>")
	assert.Contains(t, htmlOut, "<table>")
	assert.True(t, strings.HasPrefix(res.Output, "Revenue\nTotal revenue was 1200."), res.Output)
	assert.Contains(t, res.Output, "country")
	assert.NotContains(t, res.Output, "<")

	_, err = tool.Execute(context.Background(), "")
	assert.Error(t, err)
}

func TestHTMLToTextSkipsHidden(t *testing.T) {
	t.Parallel()
	got, err := HTMLToText("<div>Hello<script>var x</script></div><p>  world  </p>")
	require.NoError(t, err)
	assert.Equal(t, "Hello\nworld", got)
}
