// Package sanitize masks sensitive text before it leaves the process:
// configured rules over result values, and fixed credential scrubbing over
// error messages.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule is a regex replacement applied to every string result value.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies regex-based sanitization to result row field values.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// Rows rewrites every string value in rows in place, recursing into decoded
// JSON objects and arrays. Rules apply in order, each to the previous
// rule's output.
func (s *Sanitizer) Rows(rows []map[string]any) {
	for _, row := range rows {
		for k, v := range row {
			row[k] = s.value(v)
		}
	}
}

func (s *Sanitizer) value(v any) any {
	switch val := v.(type) {
	case string:
		for _, rule := range s.rules {
			val = rule.pattern.ReplaceAllString(val, rule.replacement)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = s.value(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = s.value(item)
		}
		return val
	default:
		// json.Number is not a string in a type switch, so numbers pass through.
		return v
	}
}

const redacted = "***"

var secretPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// Key=value credentials in ODBC/ADO/libpq style connection strings.
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*)('[^']*'|"[^"]*"|[^;\s]*)`), "${1}${2}" + redacted},
	// URL connection strings carry credentials in the user info and the query.
	{regexp.MustCompile(`(?i)\b(sqlserver|mssql|postgres(?:ql)?)://[^\s'"]*`), "${1}://" + redacted},
}

// ScrubSecrets redacts anything shaped like a credential or a connection
// string from msg.
func ScrubSecrets(msg string) string {
	for _, p := range secretPatterns {
		msg = p.pattern.ReplaceAllString(msg, p.replacement)
	}
	return msg
}
