// Package settings resolves the server configuration from the local settings
// file, the process environment, an optional .env file and built-in
// defaults, in that order of precedence.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	sqlmcp "github.com/fde-labs/fde-sql-mcp"
	"github.com/fde-labs/fde-sql-mcp/internal/dialect"
)

// DefaultConfigFile is used when neither --config nor the environment names a file.
const DefaultConfigFile = "fde_sql_mcp.config.json"

// Environment variable names.
const (
	EnvConfigPath             = "FDE_SQL_MCP_CONFIG"
	EnvHost                   = "SQL_SERVER_HOST"
	EnvPort                   = "SQL_SERVER_PORT"
	EnvDatabase               = "SQL_SERVER_DATABASE"
	EnvDriver                 = "SQL_DRIVER"
	EnvApplicationIntent      = "SQL_APPLICATION_INTENT"
	EnvEncrypt                = "SQL_ENCRYPT"
	EnvTrustServerCertificate = "SQL_TRUST_SERVER_CERTIFICATE"
	EnvConnectionTimeout      = "SQL_CONNECTION_TIMEOUT"
	EnvQueryTimeout           = "SQL_QUERY_TIMEOUT"
	EnvMaxRows                = "SQL_MAX_ROWS"
	EnvMaxQueryChars          = "SQL_MAX_QUERY_CHARS"
	EnvEnforceReadOnly        = "SQL_ENFORCE_READONLY"
	EnvMaxConcurrentQueries   = "SQL_MAX_CONCURRENT_QUERIES"
	EnvPoolConnections        = "SQL_POOL_CONNECTIONS"
	EnvLogLevel               = "LOG_LEVEL"
	EnvLogFormat              = "LOG_FORMAT"
	EnvLogOutput              = "LOG_OUTPUT"
	EnvTransport              = "FDE_SQL_MCP_TRANSPORT"
	EnvHTTPPort               = "FDE_SQL_MCP_HTTP_PORT"
	EnvMetricsAddr            = "FDE_SQL_MCP_METRICS_ADDR"
	EnvCacheURL               = "FDE_SQL_MCP_CACHE_URL"
	EnvCacheTTL               = "FDE_SQL_MCP_CACHE_TTL"
)

// Defaults returns the configuration used for every key no source sets.
func Defaults() sqlmcp.ServerConfig {
	return sqlmcp.ServerConfig{
		Settings: sqlmcp.Settings{
			Database:                 "master",
			Driver:                   dialect.SQLServer,
			Encrypt:                  true,
			TrustServerCertificate:   true,
			ConnectionTimeoutSeconds: 30,
			QueryTimeoutSeconds:      30,
			MaxRows:                  500,
			MaxQueryChars:            20000,
			EnforceReadOnly:          true,
			MaxConcurrentQueries:     8,
		},
		Server: sqlmcp.ServerSettings{
			Transport:       "stdio",
			Port:            8080,
			HealthCheckPath: "/healthz",
		},
		Logging: sqlmcp.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Cache: sqlmcp.CacheConfig{TTLSeconds: 300},
	}
}

// Options controls where Load looks.
type Options struct {
	// ConfigPath overrides the settings file location.
	ConfigPath string
	// DotEnvPath names an optional .env file; "" means ".env". A missing
	// file is ignored.
	DotEnvPath string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Resolved is the outcome of Load.
type Resolved struct {
	Config     sqlmcp.ServerConfig
	ConfigPath string
	FileFound  bool
	// Warnings lists values that were present but unusable and were
	// replaced by a lower-precedence source.
	Warnings []string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	validate.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
}

// Load resolves the configuration. Every failure is a
// *sqlmcp.ConfigurationError.
func Load(opts Options) (*Resolved, error) {
	env, err := newEnvSource(opts)
	if err != nil {
		return nil, err
	}

	path := opts.ConfigPath
	if path == "" {
		path, _ = env.lookup(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigFile
	}

	file, found, err := readFile(path)
	if err != nil {
		return nil, err
	}

	r := &resolver{file: file, env: env, config: Defaults()}
	r.resolve(filepath.Base(path))
	if r.err != nil {
		return nil, r.err
	}

	if err := validate.Struct(r.config); err != nil {
		return nil, &sqlmcp.ConfigurationError{Message: "invalid configuration", Err: describeValidation(err)}
	}

	return &Resolved{
		Config:     r.config,
		ConfigPath: path,
		FileFound:  found,
		Warnings:   r.warnings,
	}, nil
}

// readFile decodes the settings file into a generic object. A missing file
// is an empty object.
func readFile(path string) (map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, false, nil
	}
	if err != nil {
		return nil, false, &sqlmcp.ConfigurationError{Message: fmt.Sprintf("failed to read %s", path), Err: err}
	}

	var raw any
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		var m map[string]any
		err = toml.Unmarshal(data, &m)
		raw = m
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, true, &sqlmcp.ConfigurationError{Message: fmt.Sprintf("%s is invalid JSON", name), Err: errors.New("file is empty")}
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&raw)
	}
	if err != nil {
		return nil, true, &sqlmcp.ConfigurationError{Message: fmt.Sprintf("%s is invalid", name), Err: err}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		// An empty YAML document decodes to nil.
		if ext := strings.ToLower(filepath.Ext(path)); raw == nil && (ext == ".yaml" || ext == ".yml") {
			return map[string]any{}, true, nil
		}
		return nil, true, &sqlmcp.ConfigurationError{Message: fmt.Sprintf("%s must contain an object", name)}
	}
	return obj, true, nil
}

type envSource struct {
	lookupEnv func(string) (string, bool)
	dotenv    map[string]string
}

func newEnvSource(opts Options) (*envSource, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	path := opts.DotEnvPath
	if path == "" {
		path = ".env"
	}
	dotenv, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &sqlmcp.ConfigurationError{Message: fmt.Sprintf("failed to read %s", path), Err: err}
		}
		dotenv = map[string]string{}
	}
	return &envSource{lookupEnv: lookup, dotenv: dotenv}, nil
}

// lookup returns a non-blank value from the process environment, falling
// back to the .env file.
func (e *envSource) lookup(name string) (string, bool) {
	if v, ok := e.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := e.dotenv[name]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "ServerConfig.")
		field = strings.TrimPrefix(field, "Settings.")
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
		} else {
			msgs[i] = fmt.Sprintf("%s: must satisfy %s (got %v)", field, fe.Tag(), fe.Value())
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ParseBool accepts 1, true, yes, y and on in any case; everything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// NormalizeApplicationIntent maps any casing of readonly/readwrite onto the
// canonical spelling. Unknown values are returned unchanged for validation
// to reject.
func NormalizeApplicationIntent(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "readonly":
		return "ReadOnly"
	case "readwrite":
		return "ReadWrite"
	}
	return strings.TrimSpace(s)
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
