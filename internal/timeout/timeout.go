// Package timeout picks the execution deadline for one statement. The
// configured query timeout is a ceiling: rules may shorten it for statements
// known to be expensive, never extend it.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule is the timeout manager's own rule type.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	Ceiling time.Duration
	Rules   []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement timeouts. Safe for concurrent use.
type Manager struct {
	rules   []compiledRule
	ceiling time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex
// patterns or non-positive durations.
func NewManager(config Config) (*Manager, error) {
	if config.Ceiling <= 0 {
		return nil, fmt.Errorf("timeout: ceiling must be > 0, got %s", config.Ceiling)
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		if r.Timeout <= 0 {
			return nil, fmt.Errorf("timeout: rule %q must have a timeout > 0", r.Pattern)
		}
		compiled[i] = compiledRule{pattern: re, timeout: min(r.Timeout, config.Ceiling)}
	}
	return &Manager{rules: compiled, ceiling: config.Ceiling}, nil
}

// Ceiling returns the configured query timeout.
func (m *Manager) Ceiling() time.Duration {
	return m.ceiling
}

// Resolve returns the timeout for query and the pattern of the rule that
// chose it. The first matching rule wins; with no match the ceiling applies
// and the pattern is empty.
func (m *Manager) Resolve(query string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(query) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.ceiling, ""
}
