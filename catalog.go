package sqlmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fde-labs/fde-sql-mcp/internal/catalogcache"
	"github.com/fde-labs/fde-sql-mcp/internal/connect"
	"github.com/fde-labs/fde-sql-mcp/internal/dialect"
	"github.com/fde-labs/fde-sql-mcp/internal/rowlimit"
)

// ListDatabases lists the databases visible to the service identity. It
// connects to the configured default database.
func (p *SQLMcp) ListDatabases(ctx context.Context) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListDatabases, CatalogInput{Database: p.settings.Database})
}

// ListTables lists user tables with creation and modification metadata.
func (p *SQLMcp) ListTables(ctx context.Context, database string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListTables, CatalogInput{Database: database})
}

func (p *SQLMcp) ListViews(ctx context.Context, database string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListViews, CatalogInput{Database: database})
}

func (p *SQLMcp) ListStoredProcedures(ctx context.Context, database string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListStoredProcedures, CatalogInput{Database: database})
}

func (p *SQLMcp) ListIndexes(ctx context.Context, database string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListIndexes, CatalogInput{Database: database})
}

func (p *SQLMcp) ListTableColumns(ctx context.Context, database, schema, table string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListTableColumns, CatalogInput{Database: database, Schema: schema, Name: table})
}

func (p *SQLMcp) ListViewColumns(ctx context.Context, database, schema, view string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListViewColumns, CatalogInput{Database: database, Schema: schema, Name: view})
}

func (p *SQLMcp) ListTableConstraints(ctx context.Context, database, schema, table string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListTableConstraints, CatalogInput{Database: database, Schema: schema, Name: table})
}

func (p *SQLMcp) ListForeignKeys(ctx context.Context, database, schema, table string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListForeignKeys, CatalogInput{Database: database, Schema: schema, Name: table})
}

func (p *SQLMcp) ListIndexDetails(ctx context.Context, database, schema, table string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListIndexDetails, CatalogInput{Database: database, Schema: schema, Name: table})
}

func (p *SQLMcp) ListViewDefinition(ctx context.Context, database, schema, view string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListViewDefinition, CatalogInput{Database: database, Schema: schema, Name: view})
}

func (p *SQLMcp) ListStoredProcedureDefinition(ctx context.Context, database, schema, procedure string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListStoredProcedureDefinition, CatalogInput{Database: database, Schema: schema, Name: procedure})
}

func (p *SQLMcp) ListStoredProcedureParameters(ctx context.Context, database, schema, procedure string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListStoredProcedureParameters, CatalogInput{Database: database, Schema: schema, Name: procedure})
}

// ListObjectDependencies lists what the object references and what
// references it.
func (p *SQLMcp) ListObjectDependencies(ctx context.Context, database, schema, objectName string) (*CatalogOutput, error) {
	return p.Catalog(ctx, dialect.ListObjectDependencies, CatalogInput{Database: database, Schema: schema, Name: objectName})
}

// Catalog runs the fixed statement behind tool. The statement is not
// caller-authored, so it bypasses the query guard, but it shares the
// executor path: same slot, same timeout ceiling, same max_rows cap.
func (p *SQLMcp) Catalog(ctx context.Context, tool dialect.Tool, input CatalogInput) (*CatalogOutput, error) {
	startTime := time.Now()

	stmt, ok := p.dialect.CatalogSQL(tool)
	if !ok {
		return nil, &ValidationError{Rule: "tool", Reason: fmt.Sprintf("unknown catalog tool %q", tool)}
	}
	if err := connect.ValidateDatabaseName(input.Database); err != nil {
		return nil, &ValidationError{Rule: "database", Reason: err.Error()}
	}
	var args []any
	if tool.Scoped() {
		schema, name := strings.TrimSpace(input.Schema), strings.TrimSpace(input.Name)
		if schema == "" {
			return nil, &ValidationError{Rule: "schema", Reason: "schema is required"}
		}
		if name == "" {
			return nil, &ValidationError{Rule: tool.ObjectParam(), Reason: tool.ObjectParam() + " is required"}
		}
		args = []any{schema, name}
		input.Schema, input.Name = schema, name
	}

	key := catalogcache.Key(string(tool), input.Database, input.Schema, input.Name)
	if out, ok := p.cachedCatalog(ctx, key); ok {
		return out, nil
	}

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	limit := p.settings.MaxRows
	planned, strategy := rowlimit.Plan(stmt, limit, p.dialect.Rewrite)
	result, err := p.execute(ctx, execution{
		database: input.Database,
		stmt:     planned,
		args:     args,
		limit:    limit,
		strategy: strategy,
		timeout:  p.timeoutMgr.Ceiling(),
	})
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		p.metrics.Truncated(string(strategy))
	}

	out := &CatalogOutput{
		Database:  input.Database,
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  len(result.Rows),
		RowLimit:  limit,
		Truncated: result.Truncated,
	}
	p.storeCatalog(ctx, key, out)

	p.logger.Info().
		Str("tool", string(tool)).
		Str("database", input.Database).
		Dur("duration", time.Since(startTime)).
		Int("row_count", out.RowCount).
		Bool("truncated", out.Truncated).
		Str("strategy", string(strategy)).
		Msg("catalog query executed")
	return out, nil
}

// cachedCatalog returns a cached result. Cache failures are logged and
// treated as a miss.
func (p *SQLMcp) cachedCatalog(ctx context.Context, key string) (*CatalogOutput, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.metrics.CacheLookup("error")
		p.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		return nil, false
	}
	if !ok {
		p.metrics.CacheLookup("miss")
		return nil, false
	}

	out := &CatalogOutput{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		p.metrics.CacheLookup("error")
		p.logger.Warn().Err(err).Str("key", key).Msg("catalog cache entry is invalid")
		return nil, false
	}
	p.metrics.CacheLookup("hit")
	return out, true
}

func (p *SQLMcp) storeCatalog(ctx context.Context, key string, out *CatalogOutput) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("catalog result is not cacheable")
		return
	}
	if err := p.cache.Set(ctx, key, data); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}
