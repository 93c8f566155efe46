// Package configure implements the interactive wizard that writes the local
// settings file read by the settings resolver.
package configure

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	sqlmcp "github.com/fde-labs/fde-sql-mcp"
	"github.com/fde-labs/fde-sql-mcp/internal/dialect"
	"github.com/fde-labs/fde-sql-mcp/internal/settings"
)

// Run runs the interactive configuration wizard.
// Reads the existing settings file (if any), prompts for each field and
// writes the result back to configPath in the format its extension names.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	cfg, isNew := loadExisting(configPath)

	p := &prompter{
		scanner: bufio.NewScanner(input),
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "fde-sql-mcp configuration wizard\n")
	fmt.Fprintf(output, "Settings file: %s\n\n", configPath)

	fmt.Fprintf(output, "=== Connection ===\n")
	cfg.Host = p.promptRequiredString("sql_server", cfg.Host, `host or host\instance`)
	cfg.Port = p.promptNonNegativeInt("sql_server_port", cfg.Port, "0 = driver default")
	cfg.Database = p.promptRequiredString("sql_database", cfg.Database, "database used for list_databases and ping")
	cfg.Driver = p.promptEnum("sql_driver", cfg.Driver, drivers)
	cfg.ApplicationIntent = p.promptEnum("sql_application_intent", cfg.ApplicationIntent, intents)
	cfg.Encrypt = p.promptBool("sql_encrypt", cfg.Encrypt)
	cfg.TrustServerCertificate = p.promptBool("sql_trust_server_certificate", cfg.TrustServerCertificate)
	cfg.ConnectionTimeoutSeconds = p.promptPositiveInt("sql_connection_timeout", cfg.ConnectionTimeoutSeconds, "seconds, must be > 0")

	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.QueryTimeoutSeconds = p.promptPositiveInt("sql_query_timeout", cfg.QueryTimeoutSeconds, "seconds, must be > 0")
	cfg.MaxRows = p.promptPositiveInt("sql_max_rows", cfg.MaxRows, "rows, must be > 0")
	cfg.MaxQueryChars = p.promptPositiveInt("sql_max_query_chars", cfg.MaxQueryChars, "characters, must be > 0")
	cfg.EnforceReadOnly = p.promptBool("sql_enforce_readonly", cfg.EnforceReadOnly)
	cfg.MaxConcurrentQueries = p.promptPositiveInt("sql_max_concurrent_queries", cfg.MaxConcurrentQueries, "must be > 0")
	cfg.PoolConnections = p.promptBool("sql_pool_connections", cfg.PoolConnections)

	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Transport = p.promptEnum("server.transport", cfg.Server.Transport, transports)
	cfg.Server.Port = p.promptPositiveInt("server.port", cfg.Server.Port, "http transport only, must be > 0")
	cfg.Server.HealthCheckEnabled = p.promptBool("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.promptStringWithHint("server.health_check_path", cfg.Server.HealthCheckPath, "e.g. /healthz, required when health_check_enabled is true")
	cfg.Server.MetricsAddr = p.promptStringWithHint("server.metrics_addr", cfg.Server.MetricsAddr, "e.g. :9090, empty disables metrics")

	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptStringWithHint("logging.output", cfg.Logging.Output, "stderr, stdout (http only), or file path")

	fmt.Fprintf(output, "\n=== Catalog Cache ===\n")
	cfg.Cache.URL = p.promptStringWithHint("cache.url", cfg.Cache.URL, "e.g. redis://localhost:6379/0, empty disables caching")
	cfg.Cache.TTLSeconds = p.promptNonNegativeInt("cache.ttl_seconds", cfg.Cache.TTLSeconds, "seconds, 0 = no expiry")

	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.TimeoutRules = p.promptTimeoutRules(cfg.TimeoutRules)

	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = p.promptErrorPrompts(cfg.ErrorPrompts)

	fmt.Fprintf(output, "\n=== Sanitization Rules ===\n")
	cfg.Sanitization = p.promptSanitizationRules(cfg.Sanitization)

	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	fmt.Fprintf(output, "\nSettings saved to %s\n", configPath)
	return nil
}

// loadExisting resolves configPath alone, without environment variables, so
// the wizard edits exactly what the file says. Keys the file omits take their
// defaults. The second result reports that no usable file exists yet.
func loadExisting(configPath string) (*sqlmcp.ServerConfig, bool) {
	cfg := settings.Defaults()
	if _, err := os.Stat(configPath); err != nil {
		return &cfg, true
	}
	resolved, err := settings.Load(settings.Options{
		ConfigPath: configPath,
		DotEnvPath: os.DevNull,
		LookupEnv:  func(string) (string, bool) { return "", false },
	})
	if err != nil {
		// Keep whatever parses; the wizard re-prompts every field anyway.
		if data, readErr := os.ReadFile(configPath); readErr == nil {
			_ = json.Unmarshal(data, &cfg)
		}
		return &cfg, false
	}
	return &resolved.Config, false
}

var (
	drivers    = []string{dialect.SQLServer, dialect.PostgreSQL}
	intents    = []string{"", "ReadOnly", "ReadWrite"}
	transports = []string{"stdio", "http"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// writeConfig writes cfg as JSON, or as YAML or TOML when the extension
// asks for it.
func writeConfig(configPath string, cfg *sqlmcp.ServerConfig) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	data, err := encodeConfig(filepath.Ext(configPath), cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}
	return nil
}

func encodeConfig(ext string, cfg *sqlmcp.ServerConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		doc, err := genericDocument(data)
		if err != nil {
			return nil, err
		}
		return yaml.Marshal(doc)
	case ".toml":
		doc, err := genericDocument(data)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	}
	return append(data, '\n'), nil
}

// genericDocument re-decodes the JSON form so the YAML and TOML encoders
// see the same key names as the JSON file.
func genericDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to re-decode settings: %w", err)
	}
	return normalizeNumbers(doc).(map[string]any), nil
}

// normalizeNumbers turns json.Number into int64 or float64.
func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	}
	return v
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

func (p *prompter) promptStringWithHint(field string, current string, hint string) string {
	fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
	input := p.readLine()
	if input == "" {
		return current
	}
	return input
}

// promptRequiredString re-prompts until a value exists; Enter keeps a
// non-empty current value.
func (p *prompter) promptRequiredString(field string, current string, hint string) string {
	for {
		fmt.Fprintf(p.output, "%s [%s, required] (%s: %q): ", field, hint, p.valueLabel(), current)
		input, ok := p.next()
		if input != "" {
			return input
		}
		if current != "" || !ok {
			return current
		}
		fmt.Fprintf(p.output, "  Value is required, try again.\n")
	}
}

func (p *prompter) promptPositiveInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input, ok := p.next()
		if input == "" {
			if current > 0 || !ok {
				return current
			}
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptNonNegativeInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input, ok := p.next()
		if input == "" || !ok {
			return current
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val < 0 {
			fmt.Fprintf(p.output, "  Value must be >= 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptBool(field string, current bool) bool {
	for {
		fmt.Fprintf(p.output, "%s (%s: %v): ", field, p.valueLabel(), current)
		input, ok := p.next()
		if input == "" || !ok {
			return current
		}
		switch strings.ToLower(input) {
		case "true", "t", "yes", "y", "1", "on":
			return true
		case "false", "f", "no", "n", "0", "off":
			return false
		default:
			fmt.Fprintf(p.output, "  Invalid value %q, use true/false/yes/no, try again.\n", input)
		}
	}
}

func (p *prompter) promptEnum(field string, current string, allowed []string) string {
	shown := make([]string, len(allowed))
	for i, v := range allowed {
		shown[i] = v
		if v == "" {
			shown[i] = `"" (unset)`
		}
	}
	for {
		fmt.Fprintf(p.output, "%s (%s: %q, options: %s): ", field, p.valueLabel(), current, strings.Join(shown, ", "))
		input, ok := p.next()
		if input == "" || !ok {
			return current
		}
		if input == `""` {
			input = ""
		}
		for _, v := range allowed {
			if strings.EqualFold(input, v) {
				return v
			}
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, strings.Join(shown, ", "))
	}
}

// next reads one line; ok is false once input is exhausted.
func (p *prompter) next() (string, bool) {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text()), true
	}
	return "", false
}

// Array field editors

func (p *prompter) promptTimeoutRules(current []sqlmcp.TimeoutRule) []sqlmcp.TimeoutRule {
	rules := current
	for {
		if len(rules) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, r := range rules {
			fmt.Fprintf(p.output, "  [%d] pattern=%q timeout_seconds=%d\n", i, r.Pattern, r.TimeoutSeconds)
		}
		switch p.promptChoice() {
		case "a":
			rules = append(rules, sqlmcp.TimeoutRule{
				Pattern:        p.promptNewRegexField("pattern"),
				TimeoutSeconds: p.promptNewPositiveIntField("timeout_seconds"),
			})
		case "r":
			rules = removeByIndex(p, "timeout rule", rules)
		case "c":
			return rules
		}
	}
}

func (p *prompter) promptErrorPrompts(current []sqlmcp.ErrorPromptRule) []sqlmcp.ErrorPromptRule {
	rules := current
	for {
		if len(rules) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, r := range rules {
			fmt.Fprintf(p.output, "  [%d] pattern=%q message=%q\n", i, r.Pattern, r.Message)
		}
		switch p.promptChoice() {
		case "a":
			rules = append(rules, sqlmcp.ErrorPromptRule{
				Pattern: p.promptNewRegexField("pattern"),
				Message: p.promptNewField("message"),
			})
		case "r":
			rules = removeByIndex(p, "error prompt", rules)
		case "c":
			return rules
		}
	}
}

func (p *prompter) promptSanitizationRules(current []sqlmcp.SanitizationRule) []sqlmcp.SanitizationRule {
	rules := current
	for {
		if len(rules) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, r := range rules {
			fmt.Fprintf(p.output, "  [%d] pattern=%q replacement=%q description=%q\n", i, r.Pattern, r.Replacement, r.Description)
		}
		switch p.promptChoice() {
		case "a":
			rules = append(rules, sqlmcp.SanitizationRule{
				Pattern:     p.promptNewRegexField("pattern"),
				Replacement: p.promptNewField("replacement"),
				Description: p.promptNewField("description"),
			})
		case "r":
			rules = removeByIndex(p, "sanitization rule", rules)
		case "c":
			return rules
		}
	}
}

// promptChoice returns a, r or c. End of input and Enter both continue.
func (p *prompter) promptChoice() string {
	for {
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		input, ok := p.next()
		switch choice := strings.ToLower(input); {
		case !ok, choice == "", choice == "c":
			return "c"
		case choice == "a", choice == "r":
			return choice
		}
		fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
	}
}

func (p *prompter) promptNewField(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

// promptNewRegexField re-prompts until the pattern compiles.
func (p *prompter) promptNewRegexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input, ok := p.next()
		if !ok {
			return ""
		}
		if input == "" {
			fmt.Fprintf(p.output, "  Pattern is required, try again.\n")
			continue
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

func (p *prompter) promptNewPositiveIntField(name string) int {
	for {
		fmt.Fprintf(p.output, "  %s (must be > 0): ", name)
		input, ok := p.next()
		if !ok {
			return 1
		}
		val, err := strconv.Atoi(input)
		if err != nil || val <= 0 {
			fmt.Fprintf(p.output, "  Value must be an integer > 0, try again.\n")
			continue
		}
		return val
	}
}

// removeByIndex removes one entry chosen by index from any rule slice.
func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	idx, err := strconv.Atoi(p.readLine())
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}
