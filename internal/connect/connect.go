// Package connect hands out one database connection per request, scoped to
// a target database on the configured server.
package connect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// MaxDatabaseNameLength is the longest identifier SQL Server accepts (sysname).
const MaxDatabaseNameLength = 128

// Opener returns a *sql.DB handle for database. The provider owns the handle
// and closes it on Close.
type Opener func(ctx context.Context, database string) (*sql.DB, error)

// SQLOpener opens handles with database/sql using the given driver and a
// DSN builder. The DSN never leaves this function.
func SQLOpener(driverName string, dsn func(database string) string) Opener {
	return func(_ context.Context, database string) (*sql.DB, error) {
		return sql.Open(driverName, dsn(database))
	}
}

// Config is the provider's own config type.
type Config struct {
	ConnectionTimeout time.Duration
	// Pool keeps idle connections per database between requests. When false
	// every released connection is closed.
	Pool                bool
	MaxConnsPerDatabase int
}

// Error reports a failure to obtain a connection. The message never embeds
// the connection string.
type Error struct {
	Database string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to connect to database %q: %v", e.Database, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provider is safe for concurrent use.
type Provider struct {
	config Config
	open   Opener
	logger zerolog.Logger

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	closed bool
}

// NewProvider creates a Provider. Panics on invalid config.
func NewProvider(config Config, open Opener, logger zerolog.Logger) *Provider {
	if open == nil {
		panic("connect: opener must be non-nil")
	}
	if config.ConnectionTimeout <= 0 {
		panic("connect: connection timeout must be > 0")
	}
	return &Provider{
		config: config,
		open:   open,
		logger: logger,
		dbs:    make(map[string]*sql.DB),
	}
}

// ValidateDatabaseName rejects names the server could never resolve.
func ValidateDatabaseName(database string) error {
	if strings.TrimSpace(database) == "" {
		return errors.New("database name is required")
	}
	if n := utf8.RuneCountInString(database); n > MaxDatabaseNameLength {
		return fmt.Errorf("database name too long: %d characters exceeds maximum of %d", n, MaxDatabaseNameLength)
	}
	for _, r := range database {
		if unicode.IsControl(r) {
			return errors.New("database name contains control characters")
		}
	}
	return nil
}

// Lease is one connection owned by a single request.
type Lease struct {
	Conn     *sql.Conn
	Database string

	once sync.Once
}

// Release returns the connection. With discard set, or when pooling is off,
// the physical connection is closed instead of going back to the idle set.
// Safe to call more than once.
func (l *Lease) Release(discard bool) {
	l.once.Do(func() {
		if discard {
			// Returning ErrBadConn from Raw makes database/sql drop the connection.
			_ = l.Conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = l.Conn.Close()
	})
}

// Acquire opens (or reuses) a connection to database. It is bounded by the
// connection timeout and by ctx.
func (p *Provider) Acquire(ctx context.Context, database string) (*Lease, error) {
	if err := ValidateDatabaseName(database); err != nil {
		return nil, &Error{Database: database, Err: err}
	}

	db, err := p.handle(ctx, database)
	if err != nil {
		return nil, &Error{Database: database, Err: err}
	}

	connCtx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
	defer cancel()

	start := time.Now()
	conn, err := db.Conn(connCtx)
	if err != nil {
		if connCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("connection timeout after %s: %w", p.config.ConnectionTimeout, err)
		}
		return nil, &Error{Database: database, Err: err}
	}
	if err := conn.PingContext(connCtx); err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = conn.Close()
		return nil, &Error{Database: database, Err: err}
	}

	p.logger.Debug().
		Str("database", database).
		Dur("duration", time.Since(start)).
		Msg("connection acquired")
	return &Lease{Conn: conn, Database: database}, nil
}

func (p *Provider) handle(ctx context.Context, database string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("connection provider is closed")
	}
	if db, ok := p.dbs[database]; ok {
		return db, nil
	}
	db, err := p.open(ctx, database)
	if err != nil {
		return nil, err
	}
	if p.config.Pool {
		if p.config.MaxConnsPerDatabase > 0 {
			db.SetMaxOpenConns(p.config.MaxConnsPerDatabase)
			db.SetMaxIdleConns(p.config.MaxConnsPerDatabase)
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		db.SetMaxIdleConns(0)
	}
	p.dbs[database] = db
	return db, nil
}

// Stats aggregates database/sql pool statistics across all databases.
func (p *Provider) Stats() sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total sql.DBStats
	for _, db := range p.dbs {
		s := db.Stats()
		total.MaxOpenConnections += s.MaxOpenConnections
		total.OpenConnections += s.OpenConnections
		total.InUse += s.InUse
		total.Idle += s.Idle
		total.WaitCount += s.WaitCount
		total.WaitDuration += s.WaitDuration
		total.MaxIdleClosed += s.MaxIdleClosed
		total.MaxIdleTimeClosed += s.MaxIdleTimeClosed
		total.MaxLifetimeClosed += s.MaxLifetimeClosed
	}
	return total
}

// Close closes every handle. Leases still held fail on their next use.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	for name, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		delete(p.dbs, name)
	}
	return errors.Join(errs...)
}
