package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyContext(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", New(0, 0, 0).Context())
}

func TestAddTruncatesResult(t *testing.T) {
	t.Parallel()
	m := New(0, 0, 0)
	m.Add("q", strings.Repeat("x", 500))
	st := m.ShortTerm()
	require.Len(t, st, 1)
	assert.Len(t, st[0].Result, 200)
	assert.False(t, st[0].Timestamp.IsZero())
}

func TestOverflowConsolidates(t *testing.T) {
	t.Parallel()
	m := New(10, 5, 50)
	for i := 0; i < 11; i++ {
		m.Add(fmt.Sprintf("q%d", i), "r")
	}
	st, lt := m.ShortTerm(), m.LongTerm()
	require.Len(t, st, 6)
	require.Len(t, lt, 5)
	assert.Equal(t, "q0", lt[0].Query)
	assert.Equal(t, "q4", lt[4].Query)
	assert.Equal(t, "q5", st[0].Query)
	assert.Len(t, m.History(), 11)
}

func TestLongTermKeepsNewest(t *testing.T) {
	t.Parallel()
	m := New(2, 1, 3)
	for i := 0; i < 10; i++ {
		m.Add(fmt.Sprintf("q%d", i), "")
	}
	lt := m.LongTerm()
	require.Len(t, lt, 3)
	assert.Equal(t, []string{"q5", "q6", "q7"}, []string{lt[0].Query, lt[1].Query, lt[2].Query})
	assert.Len(t, m.ShortTerm(), 2)
}

func TestContextRendering(t *testing.T) {
	t.Parallel()
	m := New(0, 0, 0)
	m.UpdateSummary("user studies revenue")
	for i := 0; i < 7; i++ {
		m.Add(fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}
	m.Add(strings.Repeat("q", 150), "")

	ctx := m.Context()
	lines := strings.Split(ctx, "\n")
	assert.Equal(t, "Previous context: user studies revenue", lines[0])
	assert.Equal(t, "Recent interactions:", lines[1])
	assert.NotContains(t, ctx, "question 2")
	assert.Contains(t, ctx, "- User: question 3\n  Result: answer 3")
	assert.Equal(t, "- User: "+strings.Repeat("q", 100), lines[len(lines)-1])
}

func TestCopiesAreIndependent(t *testing.T) {
	t.Parallel()
	m := New(0, 0, 0)
	m.Add("q", "r")
	st := m.ShortTerm()
	st[0].Query = "changed"
	assert.Equal(t, "q", m.ShortTerm()[0].Query)
}
