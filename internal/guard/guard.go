// Package guard decides from the query text alone whether a caller-supplied
// statement may run under the read-only policy.
//
// The classification is lexical: literals, quoted identifiers and comments
// are told apart from code, then whole-word tokens are compared against a
// denylist. It is a heuristic that narrows what reaches the server, not a
// replacement for database-side permissions.
package guard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fde-labs/fde-sql-mcp/internal/sqllex"
)

// Rule names identify which check rejected a query.
const (
	RuleMaxLength        = "max_length"
	RuleEmpty            = "empty"
	RuleLexical          = "lexical"
	RuleMultiStatement   = "multi_statement"
	RuleLeadingKeyword   = "leading_keyword"
	RuleForbiddenKeyword = "forbidden_keyword"
)

// Denylist holds the mutation, DDL, DCL and administrative keywords that
// may never appear as a code token in read-only mode.
var Denylist = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"EXEC", "EXECUTE", "GRANT", "REVOKE", "DENY", "BACKUP", "RESTORE", "SHUTDOWN", "USE",
}

// extendedDenylist covers statements and rowset functions that write, leave
// the server or stall a session while still starting with SELECT.
var extendedDenylist = []string{
	"INTO", "DBCC", "KILL", "RECONFIGURE", "CHECKPOINT", "BULK",
	"OPENROWSET", "OPENDATASOURCE", "OPENQUERY", "WAITFOR",
}

// forbiddenPrefixes matches extended and system stored procedure names.
var forbiddenPrefixes = []string{"XP_", "SP_"}

// Config is the guard's own config type.
type Config struct {
	MaxQueryChars   int // 0 disables the length check
	EnforceReadOnly bool
	Lexer           sqllex.Options
}

// Verdict is the outcome of classifying one query.
type Verdict struct {
	Allowed bool
	Rule    string
	Reason  string
}

// Err returns nil for an allowed verdict and a *Rejection otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return &Rejection{Rule: v.Rule, Reason: v.Reason}
}

// Rejection is the error form of a rejected verdict.
type Rejection struct {
	Rule   string
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func reject(rule, format string, args ...any) Verdict {
	return Verdict{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Checker classifies queries. It holds no mutable state and is safe for
// concurrent use.
type Checker struct {
	config Config
	denied map[string]struct{}
}

// NewChecker creates a new Checker with the given config.
func NewChecker(config Config) *Checker {
	denied := make(map[string]struct{}, len(Denylist)+len(extendedDenylist))
	for _, kw := range Denylist {
		denied[kw] = struct{}{}
	}
	for _, kw := range extendedDenylist {
		denied[kw] = struct{}{}
	}
	return &Checker{config: config, denied: denied}
}

// Classify is shorthand for NewChecker(config).Classify(query).
func Classify(query string, config Config) Verdict {
	return NewChecker(config).Classify(query)
}

// Classify returns Allowed or the first rule the query breaks.
//
// Length, emptiness, tokenization and statement-count checks always apply.
// The leading-keyword and denylist checks apply only when EnforceReadOnly
// is set.
func (c *Checker) Classify(query string) Verdict {
	trimmed := strings.TrimSpace(query)

	if c.config.MaxQueryChars > 0 {
		if n := utf8.RuneCountInString(trimmed); n > c.config.MaxQueryChars {
			return reject(RuleMaxLength, "query too long: %d characters exceeds maximum of %d", n, c.config.MaxQueryChars)
		}
	}
	if trimmed == "" {
		return reject(RuleEmpty, "query is empty")
	}

	tokens, err := sqllex.Tokenize(trimmed, c.config.Lexer)
	if err != nil {
		return reject(RuleLexical, "query rejected: ambiguous tokenization: %v", err)
	}
	code := sqllex.Significant(tokens)

	// A single trailing semicolon is permitted.
	if n := len(code); n > 0 && code[n-1].Kind == sqllex.Semicolon {
		code = code[:n-1]
	}
	if len(code) == 0 {
		return reject(RuleEmpty, "query contains no statement")
	}
	for _, tok := range code {
		if tok.Kind == sqllex.Semicolon {
			return reject(RuleMultiStatement, "multiple statements are not allowed: found ';' at offset %d followed by more content", tok.Offset)
		}
	}

	if !c.config.EnforceReadOnly {
		return allow()
	}

	for _, tok := range code {
		if tok.Kind != sqllex.Word {
			continue
		}
		upper := strings.ToUpper(tok.Text)
		if _, ok := c.denied[upper]; ok {
			return reject(RuleForbiddenKeyword, "contains forbidden keyword: %s", upper)
		}
		for _, prefix := range forbiddenPrefixes {
			if strings.HasPrefix(upper, prefix) {
				return reject(RuleForbiddenKeyword, "contains forbidden procedure reference: %s", tok.Text)
			}
		}
	}

	if first := code[0]; !first.Is("SELECT") && !first.Is("WITH") {
		return reject(RuleLeadingKeyword, "only SELECT or WITH queries are allowed: query begins with %q", truncate(first.Text, 32))
	}
	return allow()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
