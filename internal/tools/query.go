package tools

import (
	"context"
	"strings"

	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/models"
)

const DefaultMaxRows = 100

var ErrNotReadOnly = datasource.ErrNotReadOnly

// QueryTool runs read-only SQL against the data source. Successful results
// are kept in the query cache when one is set.
type QueryTool struct {
	Source  datasource.Source
	Cache   *cache.QueryCache
	MaxRows int
}

func (t *QueryTool) Name() string { return string(models.ActionQuery) }

func (t *QueryTool) Description() string {
	return "Run a read-only SQL query (SELECT or WITH) against the data source and return rows"
}

func (t *QueryTool) Execute(ctx context.Context, input string) (*models.ToolResult, error) {
	sql := strings.TrimSuffix(strings.TrimSpace(input), ";")
	if sql == "" {
		return nil, datasource.ErrEmptyQuery
	}
	if !IsReadOnly(sql) {
		return nil, ErrNotReadOnly
	}

	key := cache.Key(sql)
	if t.Cache != nil {
		if e, ok := t.Cache.Get(key); ok {
			res := t.result(sql, e.Rows)
			res.Cached = true
			return res, nil
		}
	}
	rows, err := t.Source.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	if t.Cache != nil {
		t.Cache.Put(key, rows)
	}
	return t.result(sql, rows), nil
}

func (t *QueryTool) result(sql string, rows *datasource.Rows) *models.ToolResult {
	limit := t.MaxRows
	if limit <= 0 {
		limit = DefaultMaxRows
	}
	data := rows.Records
	if len(data) > limit {
		data = data[:limit]
	}
	cols := rows.Columns
	if cols == nil {
		cols = []string{}
	}
	return &models.ToolResult{
		Rows:    len(rows.Records),
		Columns: cols,
		Data:    data,
		SQLUsed: sql,
	}
}

// IsReadOnly reports whether sql is a single SELECT statement, optionally
// introduced by WITH common table expressions or wrapped in parentheses.
// Anything after a statement separator other than whitespace or comments
// makes the text a batch and is rejected.
func IsReadOnly(sql string) bool {
	toks, ok := topLevelTokens(sql)
	if !ok || len(toks) == 0 {
		return false
	}
	switch {
	case toks[0] == "SELECT":
		return true
	case toks[0] == "WITH":
		return withSelects(toks[1:])
	case isGroup(toks[0]):
		return IsReadOnly(toks[0][1 : len(toks[0])-1])
	}
	return false
}

// withSelects walks the CTE list of a WITH statement and reports whether
// the statement it introduces is a SELECT.
func withSelects(toks []string) bool {
	i := 0
	if i < len(toks) && toks[i] == "RECURSIVE" {
		i++
	}
	for {
		if i >= len(toks) || !isName(toks[i]) {
			return false
		}
		i++
		if i < len(toks) && isGroup(toks[i]) {
			i++
		}
		if i >= len(toks) || toks[i] != "AS" {
			return false
		}
		i++
		if i < len(toks) && toks[i] == "NOT" {
			i++
		}
		if i < len(toks) && toks[i] == "MATERIALIZED" {
			i++
		}
		if i >= len(toks) || !isGroup(toks[i]) {
			return false
		}
		i++
		if i < len(toks) && toks[i] == "," {
			i++
			continue
		}
		break
	}
	if i >= len(toks) {
		return false
	}
	if isGroup(toks[i]) {
		return IsReadOnly(toks[i][1 : len(toks[i])-1])
	}
	return toks[i] == "SELECT"
}

// topLevelTokens splits sql into the tokens outside any parentheses. Words
// are upper-cased, quoted identifiers become IDENT, string literals become
// LITERAL, and each parenthesized group is one token holding its raw text.
// It fails on unbalanced parentheses, unterminated quotes or comments, and
// any token after a semicolon.
func topLevelTokens(sql string) ([]string, bool) {
	var (
		toks  []string
		depth int
		start int
		ended bool
	)
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
			continue
		case strings.HasPrefix(sql[i:], "--"):
			n := strings.IndexByte(sql[i:], '\n')
			if n < 0 {
				i = len(sql)
			} else {
				i += n + 1
			}
			continue
		case strings.HasPrefix(sql[i:], "/*"):
			n := strings.Index(sql[i+2:], "*/")
			if n < 0 {
				return nil, false
			}
			i += n + 4
			continue
		}
		if ended {
			return nil, false
		}
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			end := closingQuote(sql, i)
			if end < 0 {
				return nil, false
			}
			if depth == 0 {
				if c == '\'' {
					toks = append(toks, "LITERAL")
				} else {
					toks = append(toks, "IDENT")
				}
			}
			i = end + 1
		case c == '(':
			if depth == 0 {
				start = i
			}
			depth++
			i++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, false
			}
			if depth == 0 {
				toks = append(toks, sql[start:i+1])
			}
			i++
		case c == ';':
			if depth != 0 {
				return nil, false
			}
			ended = true
			i++
		case isWordByte(c):
			j := i
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			if depth == 0 {
				toks = append(toks, strings.ToUpper(sql[i:j]))
			}
			i = j
		default:
			if depth == 0 {
				toks = append(toks, string(c))
			}
			i++
		}
	}
	if depth != 0 {
		return nil, false
	}
	return toks, true
}

// closingQuote returns the index of the quote closing the one at open. A
// doubled quote is an escaped quote. Backslashes are not treated as escapes,
// so text a dialect would read as one literal can only be rejected, never
// hidden.
func closingQuote(sql string, open int) int {
	q := sql[open]
	if q == '[' {
		q = ']'
	}
	for i := open + 1; i < len(sql); i++ {
		if sql[i] != q {
			continue
		}
		if q != ']' && i+1 < len(sql) && sql[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isGroup(tok string) bool { return strings.HasPrefix(tok, "(") }

func isName(tok string) bool {
	if tok == "IDENT" {
		return true
	}
	c := tok[0]
	return c == '_' || c >= 'A' && c <= 'Z' || c >= 0x80
}
