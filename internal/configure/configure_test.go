package configure

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sqlmcp "github.com/fde-labs/fde-sql-mcp"
	"github.com/fde-labs/fde-sql-mcp/internal/settings"
)

// Prompt index map:
//
//	0-7:   connection (sql_server, port, database, driver, intent, encrypt, trust cert, connection timeout)
//	8-13:  query (timeout, max_rows, max_query_chars, enforce_readonly, max_concurrent, pool)
//	14-18: server (transport, port, health_check_enabled, health_check_path, metrics_addr)
//	19-21: logging (level, format, output)
//	22-23: cache (url, ttl_seconds)
//	24-26: array editors (timeout_rules, error_prompts, sanitization)
const promptCount = 27

// allEnterInputs returns one line per prompt; empty means keep the shown
// value. Array editors get "c".
func allEnterInputs(overrides map[int]string) string {
	lines := make([]string, promptCount)
	for i := 24; i < promptCount; i++ {
		lines[i] = "c"
	}
	for k, v := range overrides {
		lines[k] = v
	}
	return strings.Join(lines, "\n") + "\n"
}

func newPrompter(input string) (*prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return &prompter{
		scanner: bufio.NewScanner(strings.NewReader(input)),
		output:  &out,
		isNew:   true,
	}, &out
}

func readConfig(t *testing.T, path string) sqlmcp.ServerConfig {
	t.Helper()
	resolved, err := settings.Load(settings.Options{
		ConfigPath: path,
		DotEnvPath: os.DevNull,
		LookupEnv:  func(string) (string, bool) { return "", false },
	})
	if err != nil {
		t.Fatalf("written settings do not resolve: %v", err)
	}
	return resolved.Config
}

func TestRun_NewConfig_ShowsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fde_sql_mcp.config.json")

	var out bytes.Buffer
	if err := run(path, strings.NewReader(allEnterInputs(map[int]string{0: "sql01"})), &out); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	text := out.String()
	if strings.Contains(text, "(current:") {
		t.Errorf("new settings should use 'default' label, output:\n%s", text)
	}
	for _, want := range []string{
		`sql_database [database used for list_databases and ping, required] (default: "master")`,
		`sql_driver (default: "sqlserver", options: sqlserver, postgres)`,
		"sql_max_rows [rows, must be > 0] (default: 500)",
		`server.transport (default: "stdio", options: stdio, http)`,
		"Settings saved to " + path,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestRun_NewConfig_DefaultsWrittenToFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "fde_sql_mcp.config.json")

	input := allEnterInputs(map[int]string{
		0:  `sql01\reporting`,
		3:  "postgres",
		9:  "250",
		14: "http",
	})
	if err := run(path, strings.NewReader(input), &bytes.Buffer{}); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	cfg := readConfig(t, path)
	if cfg.Host != `sql01\reporting` {
		t.Errorf("expected host sql01\\reporting, got %q", cfg.Host)
	}
	if cfg.Driver != "postgres" {
		t.Errorf("expected driver postgres, got %q", cfg.Driver)
	}
	if cfg.MaxRows != 250 {
		t.Errorf("expected max_rows 250, got %d", cfg.MaxRows)
	}
	if cfg.Server.Transport != "http" {
		t.Errorf("expected transport http, got %q", cfg.Server.Transport)
	}
	if cfg.QueryTimeoutSeconds != 30 || !cfg.EnforceReadOnly {
		t.Errorf("defaults were not kept: %+v", cfg.Settings)
	}
}

func TestRun_ExistingConfig_PreservesValues(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fde_sql_mcp.config.json")
	existing := settings.Defaults()
	existing.Host = "sql02"
	existing.MaxRows = 42
	existing.TimeoutRules = []sqlmcp.TimeoutRule{{Pattern: `(?i)sys\.dm_`, TimeoutSeconds: 5}}
	data, _ := json.Marshal(existing)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(path, strings.NewReader(allEnterInputs(nil)), &out); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	if !strings.Contains(out.String(), `(current: "sql02")`) {
		t.Errorf("existing settings should use 'current' label, output:\n%s", out.String())
	}

	cfg := readConfig(t, path)
	if cfg.Host != "sql02" || cfg.MaxRows != 42 {
		t.Errorf("expected preserved values, got host=%q max_rows=%d", cfg.Host, cfg.MaxRows)
	}
	if len(cfg.TimeoutRules) != 1 || cfg.TimeoutRules[0].TimeoutSeconds != 5 {
		t.Errorf("expected timeout rule to survive, got %+v", cfg.TimeoutRules)
	}
}

func TestRun_WritesYAMLAndTOML(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"settings.yaml", "settings.toml"} {
		path := filepath.Join(t.TempDir(), name)
		input := allEnterInputs(map[int]string{0: "sql03", 10: "1000", 24: "a"})
		// Adding a timeout rule consumes pattern and timeout lines after "a".
		input = strings.Replace(input, "\na\n", "\na\n(?i)waitfor\n7\nc\n", 1)
		if err := run(path, strings.NewReader(input), &bytes.Buffer{}); err != nil {
			t.Fatalf("%s: run() returned error: %v", name, err)
		}
		cfg := readConfig(t, path)
		if cfg.Host != "sql03" || cfg.MaxQueryChars != 1000 {
			t.Errorf("%s: unexpected settings %+v", name, cfg.Settings)
		}
		if len(cfg.TimeoutRules) != 1 || cfg.TimeoutRules[0].Pattern != "(?i)waitfor" || cfg.TimeoutRules[0].TimeoutSeconds != 7 {
			t.Errorf("%s: unexpected timeout rules %+v", name, cfg.TimeoutRules)
		}
	}
}

func TestPromptRequiredString_RejectsEmptyWhenCurrentEmpty(t *testing.T) {
	t.Parallel()
	p, out := newPrompter("\n\nsql01\n")
	if got := p.promptRequiredString("sql_server", "", "host"); got != "sql01" {
		t.Fatalf("expected sql01, got %q", got)
	}
	if n := strings.Count(out.String(), "Value is required"); n != 2 {
		t.Fatalf("expected 2 re-prompts, got %d", n)
	}
}

func TestPromptRequiredString_EnterKeepsCurrent(t *testing.T) {
	t.Parallel()
	p, _ := newPrompter("\n")
	if got := p.promptRequiredString("sql_server", "sql01", "host"); got != "sql01" {
		t.Fatalf("expected sql01, got %q", got)
	}
}

func TestPromptPositiveInt(t *testing.T) {
	t.Parallel()
	p, out := newPrompter("0\n-3\nabc\n15\n")
	if got := p.promptPositiveInt("sql_max_rows", 500, "rows"); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
	if !strings.Contains(out.String(), `Invalid integer "abc"`) {
		t.Fatalf("expected invalid integer message, output:\n%s", out.String())
	}

	p, _ = newPrompter("\n")
	if got := p.promptPositiveInt("sql_max_rows", 500, "rows"); got != 500 {
		t.Fatalf("expected Enter to keep 500, got %d", got)
	}
}

func TestPromptNonNegativeInt_AcceptsZero(t *testing.T) {
	t.Parallel()
	p, _ := newPrompter("0\n")
	if got := p.promptNonNegativeInt("sql_server_port", 1433, "port"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestPromptBool(t *testing.T) {
	t.Parallel()
	p, out := newPrompter("maybe\nON\n")
	if got := p.promptBool("sql_encrypt", false); !got {
		t.Fatal("expected true")
	}
	if !strings.Contains(out.String(), `Invalid value "maybe"`) {
		t.Fatalf("expected invalid value message, output:\n%s", out.String())
	}
}

func TestPromptEnum(t *testing.T) {
	t.Parallel()
	p, out := newPrompter("oracle\nREADONLY\n")
	if got := p.promptEnum("sql_application_intent", "", intents); got != "ReadOnly" {
		t.Fatalf("expected ReadOnly, got %q", got)
	}
	if !strings.Contains(out.String(), `options: "" (unset), ReadOnly, ReadWrite`) {
		t.Fatalf("expected options in prompt, output:\n%s", out.String())
	}

	p, _ = newPrompter(`""` + "\n")
	if got := p.promptEnum("sql_application_intent", "ReadWrite", intents); got != "" {
		t.Fatalf("expected unset intent, got %q", got)
	}
}

func TestPromptNewRegexField_RejectsInvalidThenAccepts(t *testing.T) {
	t.Parallel()
	p, out := newPrompter("([\n\n(?i)invalid object\n")
	if got := p.promptNewRegexField("pattern"); got != "(?i)invalid object" {
		t.Fatalf("expected pattern, got %q", got)
	}
	if !strings.Contains(out.String(), "Invalid regex") || !strings.Contains(out.String(), "Pattern is required") {
		t.Fatalf("expected both rejection messages, output:\n%s", out.String())
	}
}

func TestRemoveByIndex(t *testing.T) {
	t.Parallel()
	p, _ := newPrompter("1\n")
	rules := []sqlmcp.ErrorPromptRule{{Pattern: "a"}, {Pattern: "b"}, {Pattern: "c"}}
	got := removeByIndex(p, "error prompt", rules)
	if len(got) != 2 || got[1].Pattern != "c" {
		t.Fatalf("unexpected result %+v", got)
	}

	p, out := newPrompter("9\n")
	got = removeByIndex(p, "error prompt", got)
	if len(got) != 2 || !strings.Contains(out.String(), "Invalid index") {
		t.Fatalf("expected invalid index to keep entries, got %+v", got)
	}
}

func TestPrompts_EndOfInputKeepsCurrent(t *testing.T) {
	t.Parallel()
	p, _ := newPrompter("")
	if got := p.promptPositiveInt("sql_max_rows", 0, "rows"); got != 0 {
		t.Fatalf("expected current value at end of input, got %d", got)
	}
	if got := p.promptChoice(); got != "c" {
		t.Fatalf("expected continue at end of input, got %q", got)
	}
}
