package sqlmcp

// Settings is the effective configuration of the engine. It is built once at
// startup and copied into New; nothing mutates it afterwards.
type Settings struct {
	Host                     string `json:"sql_server" validate:"required"`
	Port                     int    `json:"sql_server_port,omitempty" validate:"gte=0,lte=65535"`
	Database                 string `json:"sql_database" validate:"required"`
	Driver                   string `json:"sql_driver" validate:"required"`
	ApplicationIntent        string `json:"sql_application_intent,omitempty" validate:"omitempty,oneof=ReadOnly ReadWrite"`
	Encrypt                  bool   `json:"sql_encrypt"`
	TrustServerCertificate   bool   `json:"sql_trust_server_certificate"`
	ConnectionTimeoutSeconds int    `json:"sql_connection_timeout" validate:"gt=0"`
	QueryTimeoutSeconds      int    `json:"sql_query_timeout" validate:"gt=0"`
	MaxRows                  int    `json:"sql_max_rows" validate:"gt=0"`
	MaxQueryChars            int    `json:"sql_max_query_chars" validate:"gt=0"`
	EnforceReadOnly          bool   `json:"sql_enforce_readonly"`
	MaxConcurrentQueries     int    `json:"sql_max_concurrent_queries" validate:"gt=0"`
	PoolConnections          bool   `json:"sql_pool_connections"`

	TimeoutRules []TimeoutRule      `json:"timeout_rules,omitempty" validate:"dive"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts,omitempty" validate:"dive"`
	Sanitization []SanitizationRule `json:"sanitization,omitempty" validate:"dive"`
}

// ServerConfig embeds Settings and adds the process-level sections used by
// the CLI.
type ServerConfig struct {
	Settings
	Server  ServerSettings `json:"server"`
	Logging LoggingConfig  `json:"logging"`
	Cache   CacheConfig    `json:"cache"`
}

// ServerSettings selects the protocol transport.
type ServerSettings struct {
	Transport          string `json:"transport" validate:"oneof=stdio http"`
	Port               int    `json:"port" validate:"gte=0,lte=65535"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path" validate:"required_if=HealthCheckEnabled true"`
	MetricsAddr        string `json:"metrics_addr,omitempty"` // empty disables the metrics server
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json text"`
	Output string `json:"output"` // stderr, stdout, or file path
}

// CacheConfig enables the optional catalog result cache.
type CacheConfig struct {
	URL        string `json:"url,omitempty" validate:"omitempty,url"` // redis://host:6379/0
	TTLSeconds int    `json:"ttl_seconds,omitempty" validate:"gte=0"`
}

// TimeoutRule tightens the query timeout for statements matching Pattern.
type TimeoutRule struct {
	Pattern        string `json:"pattern" validate:"required,regexp"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gt=0"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern" validate:"required,regexp"`
	Message string `json:"message" validate:"required"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern" validate:"required,regexp"`
	Replacement string `json:"replacement"`
	Description string `json:"description,omitempty"`
}
