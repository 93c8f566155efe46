package sqlmcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fde-labs/fde-sql-mcp/internal/catalogcache"
	"github.com/fde-labs/fde-sql-mcp/internal/connect"
	"github.com/fde-labs/fde-sql-mcp/internal/dialect"
	"github.com/fde-labs/fde-sql-mcp/internal/errprompt"
	"github.com/fde-labs/fde-sql-mcp/internal/guard"
	"github.com/fde-labs/fde-sql-mcp/internal/metrics"
	"github.com/fde-labs/fde-sql-mcp/internal/sanitize"
	"github.com/fde-labs/fde-sql-mcp/internal/timeout"
)

// SQLMcp is the engine behind every tool. All exported methods are safe for
// concurrent use from multiple goroutines.
type SQLMcp struct {
	settings   Settings
	dialect    *dialect.Dialect
	provider   *connect.Provider
	guard      *guard.Checker
	semaphore  chan struct{}
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	cache      catalogcache.Cache
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	opener  connect.Opener
	cache   catalogcache.Cache
	metrics *metrics.Metrics
}

// WithOpener replaces the database/sql opener, e.g. with a sqlmock handle.
func WithOpener(open connect.Opener) Option {
	return func(o *options) {
		o.opener = open
	}
}

// WithCatalogCache caches catalog tool results. The engine closes the cache
// on Close.
func WithCatalogCache(c catalogcache.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithMetrics records tool, guard and pool metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New creates the engine. The settings value is copied and never mutated.
// Panics on invalid limits (the settings resolver validates them first).
// Returns a *ConfigurationError for an unsupported driver or an invalid
// rule pattern. No connection is opened until the first tool call.
func New(settings Settings, logger zerolog.Logger, opts ...Option) (*SQLMcp, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if settings.Host == "" {
		panic("sqlmcp: host must be non-empty")
	}
	if settings.MaxRows <= 0 {
		panic("sqlmcp: max_rows must be > 0")
	}
	if settings.MaxQueryChars <= 0 {
		panic("sqlmcp: max_query_chars must be > 0")
	}
	if settings.ConnectionTimeoutSeconds <= 0 {
		panic("sqlmcp: connection_timeout must be > 0")
	}
	if settings.QueryTimeoutSeconds <= 0 {
		panic("sqlmcp: query_timeout must be > 0")
	}
	if settings.MaxConcurrentQueries <= 0 {
		panic("sqlmcp: max_concurrent_queries must be > 0")
	}

	d, err := dialect.Resolve(settings.Driver)
	if err != nil {
		return nil, &ConfigurationError{Message: "invalid sql_driver", Err: err}
	}

	san, err := sanitize.NewSanitizer(mapSanitizationRules(settings.Sanitization))
	if err != nil {
		return nil, &ConfigurationError{Message: "invalid sanitization rule", Err: err}
	}
	matcher, err := errprompt.WithDefaults(mapErrorPromptRules(settings.ErrorPrompts))
	if err != nil {
		return nil, &ConfigurationError{Message: "invalid error prompt rule", Err: err}
	}
	timeoutRules := make([]timeout.Rule, len(settings.TimeoutRules))
	for i, r := range settings.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		Ceiling: time.Duration(settings.QueryTimeoutSeconds) * time.Second,
		Rules:   timeoutRules,
	})
	if err != nil {
		return nil, &ConfigurationError{Message: "invalid timeout rule", Err: err}
	}

	params := dialect.ConnParams{
		Host:                   settings.Host,
		Port:                   settings.Port,
		Encrypt:                settings.Encrypt,
		TrustServerCertificate: settings.TrustServerCertificate,
		ConnectionTimeout:      time.Duration(settings.ConnectionTimeoutSeconds) * time.Second,
		ApplicationIntent:      settings.ApplicationIntent,
	}
	open := o.opener
	if open == nil {
		open = connect.SQLOpener(d.DriverName, func(database string) string {
			return d.DSN(params, database)
		})
	}
	provider := connect.NewProvider(connect.Config{
		ConnectionTimeout:   params.ConnectionTimeout,
		Pool:                settings.PoolConnections,
		MaxConnsPerDatabase: settings.MaxConcurrentQueries,
	}, open, logger)

	o.metrics.RegisterPoolStats(provider.Stats)

	logger.Info().
		Str("host", settings.Host).
		Int("port", settings.Port).
		Str("database", settings.Database).
		Str("driver", d.Name).
		Bool("enforce_readonly", settings.EnforceReadOnly).
		Int("max_rows", settings.MaxRows).
		Msg("sql engine configured")

	return &SQLMcp{
		settings: settings,
		dialect:  d,
		provider: provider,
		guard: guard.NewChecker(guard.Config{
			MaxQueryChars:   settings.MaxQueryChars,
			EnforceReadOnly: settings.EnforceReadOnly,
			Lexer:           d.Lexer,
		}),
		semaphore:  make(chan struct{}, settings.MaxConcurrentQueries),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		cache:      o.cache,
		metrics:    o.metrics,
		logger:     logger,
	}, nil
}

// Settings returns a copy of the effective settings.
func (p *SQLMcp) Settings() Settings {
	return p.settings
}

// Dialect returns the name of the configured database dialect.
func (p *SQLMcp) Dialect() string {
	return p.dialect.Name
}

// Ping opens a connection to the default database and runs a trivial
// statement within the query timeout.
func (p *SQLMcp) Ping(ctx context.Context) error {
	lease, err := p.provider.Acquire(ctx, p.settings.Database)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.timeoutMgr.Ceiling())
	defer cancel()

	var one int
	err = lease.Conn.QueryRowContext(pingCtx, "SELECT 1").Scan(&one)
	lease.Release(err != nil)
	if err != nil {
		return p.executionError(err, pingCtx, p.timeoutMgr.Ceiling())
	}
	return nil
}

// Close closes every database handle and the catalog cache.
func (p *SQLMcp) Close() error {
	var errs []error
	if err := p.provider.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.cache != nil {
		if err := p.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// acquireSlot waits for a free query slot; waiting respects ctx.
func (p *SQLMcp) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case p.semaphore <- struct{}{}:
		return func() { <-p.semaphore }, nil
	case <-ctx.Done():
		// A deadline is a timeout; a caller that went away is not.
		return nil, &ExecutionError{
			Kind:    ClassifyError(ctx.Err(), ctx.Err()),
			Message: fmt.Sprintf("failed to acquire query slot: all %d query slots are in use, context ended while waiting: %v", cap(p.semaphore), ctx.Err()),
			Err:     ctx.Err(),
		}
	}
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
