package sqlmcp

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fde-labs/fde-sql-mcp/internal/connect"
	"github.com/fde-labs/fde-sql-mcp/internal/guard"
)

// ErrorKind classifies per-call failures in tool error payloads.
type ErrorKind string

const (
	KindConnectionFailed ErrorKind = "connection_failed"
	KindTimeout          ErrorKind = "timeout"
	KindDriverRejected   ErrorKind = "driver_rejected"
	KindUnknown          ErrorKind = "unknown"
	KindValidation       ErrorKind = "validation"
	KindConfiguration    ErrorKind = "configuration"
)

// ConfigurationError is fatal at startup: the process must not serve.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError reports that no connection to Database could be obtained.
type ConnectionError = connect.Error

// ValidationError is a query guard rejection or an invalid tool argument.
type ValidationError struct {
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ExecutionError is any failure once a statement has been accepted.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExecutionError) Error() string { return e.Message }

func (e *ExecutionError) Unwrap() error { return e.Err }

// ClassifyError maps err onto an ErrorKind. ctxErr is the error of the
// statement context (nil if it is still live); a deadline there means the
// query timeout fired rather than the driver failing on its own.
func ClassifyError(err error, ctxErr error) ErrorKind {
	var (
		rejection *guard.Rejection
		validErr  *ValidationError
		cfgErr    *ConfigurationError
		execErr   *ExecutionError
		connErr   *connect.Error
		msErr     mssql.Error
		pgErr     *pgconn.PgError
		netErr    net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &execErr):
		return execErr.Kind
	case errors.As(err, &rejection), errors.As(err, &validErr):
		return KindValidation
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &connErr):
		return KindConnectionFailed
	case errors.Is(ctxErr, context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &msErr), errors.As(err, &pgErr):
		return KindDriverRejected
	case errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		if netErr != nil && netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectionFailed
	default:
		return KindUnknown
	}
}
