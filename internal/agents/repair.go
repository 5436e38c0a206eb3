package agents

import "strings"

// Error classes reported by ClassifyError.
const (
	ErrClassTypeMismatch  = "type_mismatch"
	ErrClassUnknownColumn = "unknown_column"
	ErrClassAggregation   = "aggregation"
	ErrClassOrdering      = "ordering"
	ErrClassFunction      = "function"
	ErrClassSyntax        = "syntax"
	ErrClassUnknown       = "unknown"
)

const fixCatalog = `1. type_mismatch: TIMESTAMP vs DATE or STRING comparison
   - WRONG: WHERE created_at >= '2024-01-01'
   - RIGHT: WHERE CAST(created_at AS DATE) >= DATE('2024-01-01')
2. unknown_column: a column name that does not exist
   - replace it with the matching column from the schema (e.g. products.id, not products.product_id)
3. aggregation: a selected column that is neither grouped nor aggregated
   - add it to GROUP BY or wrap it in an aggregate
4. ordering: ORDER BY or HAVING referencing a column not in the select list or GROUP BY
   - order by an alias or an aggregate
5. function: a function the engine does not support
   - use EXTRACT(MONTH FROM col) instead of MONTH(col)
6. syntax: missing table aliases, commas or wrong JOIN conditions`

var errClassRules = []struct {
	class    string
	patterns []string
}{
	{ErrClassUnknownColumn, []string{"unrecognized name", "no such column", "unknown column", "not found inside", "name not found"}},
	{ErrClassFunction, []string{"function not found", "no such function", "unknown function", "undefined function"}},
	{ErrClassAggregation, []string{"neither grouped nor aggregated", "must appear in the group by", "misuse of aggregate", "aggregate function", "group by"}},
	{ErrClassOrdering, []string{"order by", "having clause", "having"}},
	{ErrClassTypeMismatch, []string{"no matching signature", "cannot be compared", "type mismatch", "datatype mismatch", "invalid cast", "could not cast", "cannot coerce"}},
	{ErrClassSyntax, []string{"syntax error", "unexpected", "incomplete input", "parse error"}},
}

// ClassifyError maps a data-source error message to one of the fixable
// error classes, or ErrClassUnknown.
func ClassifyError(msg string) string {
	m := strings.ToLower(msg)
	for _, r := range errClassRules {
		for _, p := range r.patterns {
			if strings.Contains(m, p) {
				return r.class
			}
		}
	}
	return ErrClassUnknown
}
