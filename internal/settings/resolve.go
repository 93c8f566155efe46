package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	sqlmcp "github.com/fde-labs/fde-sql-mcp"
	"github.com/fde-labs/fde-sql-mcp/internal/dialect"
)

// resolver applies file > environment > .env > default for every key.
type resolver struct {
	file     map[string]any
	env      *envSource
	config   sqlmcp.ServerConfig
	warnings []string
	err      error
}

func (r *resolver) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *resolver) resolve(fileName string) {
	c := &r.config

	host, ok := r.str("sql_server", EnvHost)
	if !ok {
		r.err = &sqlmcp.ConfigurationError{Message: fmt.Sprintf(
			"%s must be configured via an environment variable or %s before starting the server.", EnvHost, fileName)}
		return
	}
	c.Host = host

	r.intInto(&c.Port, "sql_server_port", EnvPort)
	r.strInto(&c.Database, "sql_database", EnvDatabase)
	r.strInto(&c.Driver, "sql_driver", EnvDriver)
	if intent, ok := r.str("sql_application_intent", EnvApplicationIntent); ok {
		c.ApplicationIntent = NormalizeApplicationIntent(intent)
	}
	r.boolInto(&c.Encrypt, "sql_encrypt", EnvEncrypt)
	r.boolInto(&c.TrustServerCertificate, "sql_trust_server_certificate", EnvTrustServerCertificate)
	r.intInto(&c.ConnectionTimeoutSeconds, "sql_connection_timeout", EnvConnectionTimeout)
	r.intInto(&c.QueryTimeoutSeconds, "sql_query_timeout", EnvQueryTimeout)
	r.intInto(&c.MaxRows, "sql_max_rows", EnvMaxRows)
	r.intInto(&c.MaxQueryChars, "sql_max_query_chars", EnvMaxQueryChars)
	r.boolInto(&c.EnforceReadOnly, "sql_enforce_readonly", EnvEnforceReadOnly)
	r.intInto(&c.MaxConcurrentQueries, "sql_max_concurrent_queries", EnvMaxConcurrentQueries)
	r.boolInto(&c.PoolConnections, "sql_pool_connections", EnvPoolConnections)

	d, err := dialect.Resolve(c.Driver)
	if err != nil {
		r.err = &sqlmcp.ConfigurationError{Message: "invalid sql_driver", Err: err}
		return
	}
	c.Driver = d.Name

	r.section("timeout_rules", &c.TimeoutRules)
	r.section("error_prompts", &c.ErrorPrompts)
	r.section("sanitization", &c.Sanitization)
	if r.err != nil {
		return
	}

	server := r.object("server")
	r.strInto(&c.Server.Transport, nested(server, "transport"), EnvTransport)
	c.Server.Transport = strings.ToLower(c.Server.Transport)
	r.intInto(&c.Server.Port, nested(server, "port"), EnvHTTPPort)
	r.boolInto(&c.Server.HealthCheckEnabled, nested(server, "health_check_enabled"), "")
	r.strInto(&c.Server.HealthCheckPath, nested(server, "health_check_path"), "")
	r.strInto(&c.Server.MetricsAddr, nested(server, "metrics_addr"), EnvMetricsAddr)

	logging := r.object("logging")
	r.strInto(&c.Logging.Level, nested(logging, "level"), EnvLogLevel)
	r.strInto(&c.Logging.Format, nested(logging, "format"), EnvLogFormat)
	r.strInto(&c.Logging.Output, nested(logging, "output"), EnvLogOutput)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)

	cache := r.object("cache")
	r.strInto(&c.Cache.URL, nested(cache, "url"), EnvCacheURL)
	r.intInto(&c.Cache.TTLSeconds, nested(cache, "ttl_seconds"), EnvCacheTTL)
}

// key addresses a value in the file: a top-level name or a name inside a
// nested section.
type key struct {
	section map[string]any
	name    string
}

func nested(section map[string]any, name string) key {
	return key{section: section, name: name}
}

func (r *resolver) fileValue(k any) (any, string) {
	switch k := k.(type) {
	case string:
		return r.file[k], k
	case key:
		if k.section == nil {
			return nil, k.name
		}
		return k.section[k.name], k.name
	}
	return nil, ""
}

func (r *resolver) object(name string) map[string]any {
	v, ok := r.file[name]
	if !ok || v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	r.warnf("%s must be an object; ignored", name)
	return nil
}

// str returns the first non-blank string for k.
func (r *resolver) str(k any, envName string) (string, bool) {
	if v, _ := r.fileValue(k); v != nil {
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s, true
		}
	}
	if envName != "" {
		return r.env.lookup(envName)
	}
	return "", false
}

func (r *resolver) strInto(dst *string, k any, envName string) {
	if s, ok := r.str(k, envName); ok {
		*dst = s
	}
}

// boolInto follows the lenient rule: a present file value wins even when it
// is not a recognised truthy word (then it is false).
func (r *resolver) boolInto(dst *bool, k any, envName string) {
	if v, _ := r.fileValue(k); v != nil {
		if b, ok := v.(bool); ok {
			*dst = b
		} else {
			*dst = ParseBool(stringify(v))
		}
		return
	}
	if envName == "" {
		return
	}
	if s, ok := r.env.lookup(envName); ok {
		*dst = ParseBool(s)
	}
}

// intInto falls through to the next source when a value does not parse.
func (r *resolver) intInto(dst *int, k any, envName string) {
	if v, label := r.fileValue(k); v != nil {
		n, err := toInt(v)
		if err == nil {
			*dst = n
			return
		}
		if s := strings.TrimSpace(stringify(v)); s != "" {
			r.warnf("%s: %v; falling back to environment or default", label, err)
		}
	}
	if envName == "" {
		return
	}
	if s, ok := r.env.lookup(envName); ok {
		n, err := atoi(s)
		if err != nil {
			r.warnf("%s: invalid integer %q; using default %d", envName, s, *dst)
			return
		}
		*dst = n
	}
}

// section decodes a structured list by round-tripping it through JSON, so
// YAML, TOML and JSON files share one decoder.
func (r *resolver) section(name string, dst any) {
	v, ok := r.file[name]
	if !ok || v == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		r.err = &sqlmcp.ConfigurationError{Message: fmt.Sprintf("invalid %s", name), Err: err}
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.err = &sqlmcp.ConfigurationError{Message: fmt.Sprintf("invalid %s", name), Err: err}
	}
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func toInt(v any) (int, error) {
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("invalid integer %v", v)
		}
		return int(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("invalid integer %s", v)
		}
		return int(f), nil
	case string:
		n, err := atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid integer %v", v)
}
