// Package rowlimit bounds how many rows a statement may return to a caller.
package rowlimit

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/fde-labs/fde-sql-mcp/internal/sqllex"
)

// Strategy records where the cap was applied.
type Strategy string

const (
	ServerSide Strategy = "server"
	ClientSide Strategy = "client"
)

// Rewriter injects a server-side row cap of n into query. It reports false
// when the statement shape does not allow a safe rewrite.
type Rewriter func(query string, n int) (string, bool)

// Effective returns the row limit for one request: the caller may tighten
// the ceiling but never loosen it. A nil request means "use the ceiling".
func Effective(requested *int, ceiling int) (int, error) {
	if ceiling <= 0 {
		return 0, fmt.Errorf("row limit ceiling must be > 0, got %d", ceiling)
	}
	if requested == nil {
		return ceiling, nil
	}
	if *requested <= 0 {
		return 0, fmt.Errorf("max_rows must be a positive integer, got %d", *requested)
	}
	return min(*requested, ceiling), nil
}

// Plan picks the statement to send. The server is asked for limit+1 rows so
// the extra row reveals truncation; when rewrite is nil or declines, the
// original statement is sent and the cap is applied while reading.
func Plan(query string, limit int, rewrite Rewriter) (string, Strategy) {
	if rewrite != nil {
		if rewritten, ok := rewrite(query, limit+1); ok {
			return rewritten, ServerSide
		}
	}
	return query, ClientSide
}

// setOperators and clauses that change what a leading TOP would bind to.
// An outer FOR (JSON, XML, BROWSE) makes TOP limit the rows folded into the
// document instead of the rows returned.
var topBlockers = []string{"UNION", "INTERSECT", "EXCEPT", "OFFSET", "FETCH", "INTO", "FOR"}

// InjectTop rewrites a plain T-SQL SELECT into SELECT TOP (n). Statements
// that start with WITH, already carry TOP, combine results with a set
// operator at the outer level, page with OFFSET/FETCH, or end in an outer
// FOR clause are left alone.
func InjectTop(query string, n int) (string, bool) {
	tokens, err := sqllex.Tokenize(query, sqllex.TSQL)
	if err != nil {
		return "", false
	}
	code := sqllex.Significant(tokens)
	if len(code) < 2 || !code[0].Is("SELECT") {
		return "", false
	}

	depth := 0
	for _, tok := range code {
		switch {
		case tok.Kind == sqllex.Punct && tok.Text == "(":
			depth++
		case tok.Kind == sqllex.Punct && tok.Text == ")":
			depth--
		case depth == 0:
			for _, kw := range topBlockers {
				if tok.Is(kw) {
					return "", false
				}
			}
		}
	}

	insertAt := code[0].End()
	next := 1
	if code[1].Is("DISTINCT") || code[1].Is("ALL") {
		insertAt = code[1].End()
		next = 2
	}
	if next < len(code) && code[next].Is("TOP") {
		return "", false
	}
	return query[:insertAt] + " TOP (" + strconv.Itoa(n) + ")" + query[insertAt:], true
}

// Rows is the subset of *sql.Rows that Collect reads.
type Rows interface {
	ColumnTypes() ([]*sql.ColumnType, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Converter turns a scanned driver value into a JSON-safe value.
type Converter func(column *sql.ColumnType, value any) any

// Result is a bounded result set.
type Result struct {
	Columns   []string
	Rows      []map[string]any
	Truncated bool
}

// Collect reads at most limit rows. It then advances once more without
// scanning: if another row exists the result is marked truncated. The caller
// owns rows and must close it.
func Collect(rows Rows, limit int, convert Converter) (*Result, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	raw := make([]string, len(types))
	for i, ct := range types {
		raw[i] = ct.Name()
	}
	columns := ColumnNames(raw)

	result := &Result{Columns: columns, Rows: make([]map[string]any, 0)}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for len(result.Rows) < limit && rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if convert != nil {
				row[col] = convert(types[i], values[i])
			} else {
				row[col] = values[i]
			}
			values[i] = nil
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(result.Rows) == limit {
		if rows.Next() {
			result.Truncated = true
		} else if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ColumnNames returns unique, non-empty keys for the row maps. Unnamed
// columns become column<N> (1-based); a repeated name gets a _<k> suffix
// starting at 2.
func ColumnNames(raw []string) []string {
	names := make([]string, len(raw))
	used := make(map[string]struct{}, len(raw))
	for i, base := range raw {
		if base == "" {
			base = "column" + strconv.Itoa(i+1)
		}
		name := base
		for k := 2; ; k++ {
			if _, taken := used[name]; !taken {
				break
			}
			name = base + "_" + strconv.Itoa(k)
		}
		used[name] = struct{}{}
		names[i] = name
	}
	return names
}
