// Package errprompt appends guidance to database error messages so the
// client can correct the next call instead of retrying blindly.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule maps an error message pattern to a guidance message.
type Rule struct {
	Pattern string
	Message string
}

// Defaults cover the lookup mistakes clients make against an unfamiliar
// catalog. Configured rules are evaluated before these.
var Defaults = []Rule{
	{
		Pattern: `(?i)invalid object name|relation .* does not exist`,
		Message: "The object was not found. Call list_tables or list_views for this database and use the schema-qualified name they return.",
	},
	{
		Pattern: `(?i)invalid column name|column .* does not exist`,
		Message: "Check the column names with list_table_columns or list_view_columns before querying.",
	},
	{
		Pattern: `(?i)cannot open database|database .* does not exist`,
		Message: "Call list_databases to see the databases this server exposes.",
	},
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance prompts.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules in order. Returns an error on invalid regex
// patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// WithDefaults compiles rules followed by Defaults.
func WithDefaults(rules []Rule) (*Matcher, error) {
	all := make([]Rule, 0, len(rules)+len(Defaults))
	all = append(all, rules...)
	all = append(all, Defaults...)
	return NewMatcher(all)
}

// Match returns every matching guidance message, top to bottom, joined by
// newlines. Returns "" when nothing matches.
func (m *Matcher) Match(errMsg string) string {
	prompt, _ := m.match(errMsg)
	return prompt
}

// Annotate appends the guidance for errMsg after a blank line and reports
// which patterns contributed. errMsg is returned unchanged when nothing
// matches.
func (m *Matcher) Annotate(errMsg string) (string, []string) {
	prompt, patterns := m.match(errMsg)
	if prompt == "" {
		return errMsg, nil
	}
	return errMsg + "\n\n" + prompt, patterns
}

func (m *Matcher) match(errMsg string) (string, []string) {
	var messages, patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			messages = append(messages, rule.message)
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return strings.Join(messages, "\n"), patterns
}
