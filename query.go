package sqlmcp

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	mssql "github.com/denisenkom/go-mssqldb"

	"github.com/fde-labs/fde-sql-mcp/internal/connect"
	"github.com/fde-labs/fde-sql-mcp/internal/guard"
	"github.com/fde-labs/fde-sql-mcp/internal/rowlimit"
	"github.com/fde-labs/fde-sql-mcp/internal/sanitize"
)

// RunReadonlyQuery executes the full query pipeline and returns only
// QueryOutput. All errors are converted to output.Error, sanitized and
// annotated with matching error prompts, so callers never check a Go error.
func (p *SQLMcp) RunReadonlyQuery(ctx context.Context, input QueryInput) *QueryOutput {
	startTime := time.Now()

	// 1. Classify before taking a slot; rejections never wait.
	if verdict := p.guard.Classify(input.Query); !verdict.Allowed {
		p.metrics.GuardRejected(verdict.Rule)
		return &QueryOutput{Error: p.handleError(verdict.Err())}
	}
	if err := connect.ValidateDatabaseName(input.Database); err != nil {
		return &QueryOutput{Error: p.handleError(&ValidationError{Rule: "database", Reason: err.Error()})}
	}
	limit, err := rowlimit.Effective(input.MaxRows, p.settings.MaxRows)
	if err != nil {
		return &QueryOutput{Error: p.handleError(&ValidationError{Rule: "max_rows", Reason: err.Error()})}
	}

	// 2. Acquire a slot (respects context cancellation to prevent deadlock).
	release, err := p.acquireSlot(ctx)
	if err != nil {
		return &QueryOutput{Error: p.handleError(err)}
	}
	defer release()

	// 3. Plan the cap and the deadline.
	query := strings.TrimSpace(input.Query)
	stmt, strategy := rowlimit.Plan(query, limit, p.dialect.Rewrite)
	timeout, timeoutRule := p.timeoutMgr.Resolve(query)

	// 4. Execute on a connection owned by this call.
	result, err := p.execute(ctx, execution{
		database: input.Database,
		stmt:     stmt,
		limit:    limit,
		strategy: strategy,
		timeout:  timeout,
	})
	if err != nil {
		return &QueryOutput{RowLimit: limit, Error: p.handleError(err)}
	}

	// 5. Apply sanitization (per-field, recursive into decoded JSON).
	sanitized := p.sanitizer.HasRules()
	if sanitized {
		p.sanitizer.Rows(result.Rows)
	}
	if result.Truncated {
		p.metrics.Truncated(string(strategy))
	}

	logEvent := p.logger.Info().
		Str("sql", truncateForLog(query, 200)).
		Str("database", input.Database).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Rows)).
		Int("row_limit", limit).
		Bool("truncated", result.Truncated).
		Str("strategy", string(strategy))
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return &QueryOutput{
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  len(result.Rows),
		RowLimit:  limit,
		Truncated: result.Truncated,
	}
}

// execution is one statement run on a connection owned by a single call.
type execution struct {
	database string
	stmt     string
	args     []any
	limit    int
	strategy rowlimit.Strategy
	timeout  time.Duration
}

// execute acquires a connection, runs ex.stmt under ex.timeout and reads at
// most ex.limit rows. The connection is released before returning; it is
// discarded instead of reused when the statement was cut short.
func (p *SQLMcp) execute(ctx context.Context, ex execution) (*rowlimit.Result, error) {
	lease, err := p.provider.Acquire(ctx, ex.database)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	result, err := p.collect(queryCtx, cancel, lease.Conn, ex)

	// A cancelled or timed-out statement may leave the session mid-stream.
	discard := queryCtx.Err() != nil || errors.Is(err, driver.ErrBadConn)
	lease.Release(discard)

	if err != nil {
		return nil, p.executionError(err, queryCtx, ex.timeout)
	}
	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *SQLMcp) collect(ctx context.Context, stop context.CancelFunc, conn *sql.Conn, ex execution) (*rowlimit.Result, error) {
	var q queryer = conn
	if p.dialect.ReadOnlyTx {
		tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
		q = tx
	}

	rows, err := q.QueryContext(ctx, ex.stmt, ex.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result, err := rowlimit.Collect(rows, ex.limit, convertValue)
	if err != nil {
		return nil, err
	}
	if result.Truncated && ex.strategy == rowlimit.ClientSide {
		// Stop the server from streaming the rest of an uncapped result.
		stop()
	}
	return result, nil
}

// executionError wraps a failure of an accepted statement. Connection
// errors keep their own type.
func (p *SQLMcp) executionError(err error, queryCtx context.Context, timeout time.Duration) error {
	var connErr *connect.Error
	if errors.As(err, &connErr) {
		return err
	}
	kind := ClassifyError(err, queryCtx.Err())
	msg := "query failed: " + err.Error()
	switch {
	case kind == KindTimeout && errors.Is(queryCtx.Err(), context.DeadlineExceeded):
		msg = fmt.Sprintf("query timed out after %s", timeout)
	case errors.Is(err, context.Canceled), errors.Is(queryCtx.Err(), context.Canceled):
		msg = "query cancelled before completion"
	}
	return &ExecutionError{Kind: kind, Message: msg, Err: err}
}

// handleError converts any error into a ToolError. The message is scrubbed
// of credentials, then evaluated against error_prompts; matching prompt
// messages are appended.
func (p *SQLMcp) handleError(err error) *ToolError {
	kind := ClassifyError(err, nil)
	msg, patterns := p.errPrompts.Annotate(sanitize.ScrubSecrets(err.Error()))

	logEvent := p.logger.Error()
	if kind == KindValidation {
		logEvent = p.logger.Warn()
		var rejection *guard.Rejection
		if errors.As(err, &rejection) {
			logEvent = logEvent.Str("rule", rejection.Rule)
		}
	}
	logEvent = logEvent.Str("kind", string(kind)).Str("error", sanitize.ScrubSecrets(err.Error()))
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("tool error")

	return &ToolError{Kind: kind, Message: msg}
}

// convertValue turns a scanned database/sql value into a JSON-friendly Go
// type. Decimal and money values stay textual so no precision is lost.
func convertValue(column *sql.ColumnType, v any) any {
	typeName := ""
	if column != nil {
		typeName = column.DatabaseTypeName()
	}
	return convertTyped(typeName, v)
}

// convertTyped converts v given the driver's database type name.
func convertTyped(typeName string, v any) any {
	typeName = strings.ToUpper(typeName)
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return convertBytes(typeName, val)
	case string:
		if typeName == "JSON" || typeName == "JSONB" {
			return decodeJSON(val)
		}
		return val
	case time.Time:
		switch typeName {
		case "DATE":
			return val.Format(time.DateOnly)
		case "TIME":
			return val.Format("15:04:05.9999999")
		}
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	default:
		return val
	}
}

func convertBytes(typeName string, b []byte) any {
	switch typeName {
	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return string(b)
	case "JSON", "JSONB":
		return decodeJSON(string(b))
	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP", "ROWVERSION", "BYTEA":
		return base64.StdEncoding.EncodeToString(b)
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func convertFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

// decodeJSON parses a json/jsonb document so sanitization can reach nested
// strings. Numbers are kept as json.Number; invalid documents stay text.
func decodeJSON(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	return v
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
