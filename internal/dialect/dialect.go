// Package dialect holds everything that differs between the supported
// database servers: driver registration name, connection string layout,
// lexical rules for the query guard, row-cap rewriting and the fixed
// catalog statements behind each introspection tool.
package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/fde-labs/fde-sql-mcp/internal/rowlimit"
	"github.com/fde-labs/fde-sql-mcp/internal/sqllex"
)

// Dialect names.
const (
	SQLServer  = "sqlserver"
	PostgreSQL = "postgres"
)

// Tool identifies a catalog tool.
type Tool string

const (
	ListDatabases                 Tool = "list_databases"
	ListTables                    Tool = "list_tables"
	ListViews                     Tool = "list_views"
	ListStoredProcedures          Tool = "list_stored_procedures"
	ListIndexes                   Tool = "list_indexes"
	ListTableColumns              Tool = "list_table_columns"
	ListViewColumns               Tool = "list_view_columns"
	ListTableConstraints          Tool = "list_table_constraints"
	ListForeignKeys               Tool = "list_foreign_keys"
	ListIndexDetails              Tool = "list_index_details"
	ListViewDefinition            Tool = "list_view_definition"
	ListStoredProcedureDefinition Tool = "list_stored_procedure_definition"
	ListStoredProcedureParameters Tool = "list_stored_procedure_parameters"
	ListObjectDependencies        Tool = "list_object_dependencies"
)

// Tools lists every catalog tool in registration order.
var Tools = []Tool{
	ListDatabases, ListTables, ListViews, ListStoredProcedures, ListIndexes,
	ListTableColumns, ListViewColumns, ListTableConstraints, ListForeignKeys,
	ListIndexDetails, ListViewDefinition, ListStoredProcedureDefinition,
	ListStoredProcedureParameters, ListObjectDependencies,
}

// Scoped reports whether the tool takes a schema and an object name.
func (t Tool) Scoped() bool {
	switch t {
	case ListDatabases, ListTables, ListViews, ListStoredProcedures, ListIndexes:
		return false
	}
	return true
}

// ObjectParam is the tool argument naming the object for scoped tools.
func (t Tool) ObjectParam() string {
	switch t {
	case ListTableColumns, ListTableConstraints, ListForeignKeys, ListIndexDetails:
		return "table"
	case ListViewColumns, ListViewDefinition:
		return "view"
	case ListStoredProcedureDefinition, ListStoredProcedureParameters:
		return "procedure"
	case ListObjectDependencies:
		return "object_name"
	}
	return ""
}

// ConnParams are the server-level connection settings. Authentication is
// always delegated to the operating system, so there is no credential here.
type ConnParams struct {
	Host                   string
	Port                   int
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      time.Duration
	ApplicationIntent      string // "", ReadOnly or ReadWrite
}

// ApplicationName is reported to the server for every connection.
const ApplicationName = "FDE SQL MCP"

// Dialect describes one database server family.
type Dialect struct {
	Name       string
	DriverName string // database/sql driver registration name
	Lexer      sqllex.Options
	// ReadOnlyTx is set when the driver accepts sql.TxOptions{ReadOnly: true}.
	ReadOnlyTx bool
	// Rewrite injects a server-side row cap; nil means always cap client-side.
	Rewrite rowlimit.Rewriter

	dsn     func(p ConnParams, database string) string
	catalog map[Tool]string
}

// DSN builds the driver connection string for database. The result may
// carry environment-sensitive parameters and must not be logged.
func (d *Dialect) DSN(p ConnParams, database string) string {
	return d.dsn(p, database)
}

// CatalogSQL returns the fixed statement behind tool. Scoped tools bind the
// schema as the first and the object name as the second parameter.
func (d *Dialect) CatalogSQL(tool Tool) (string, bool) {
	q, ok := d.catalog[tool]
	return q, ok
}

// Resolve maps a configured driver name onto a dialect. ODBC driver names
// such as "ODBC Driver 18 for SQL Server" select SQL Server.
func Resolve(driver string) (*Dialect, error) {
	name := strings.ToLower(strings.Trim(strings.TrimSpace(driver), "{}"))
	switch {
	case name == "" || name == "sqlserver" || name == "mssql" || strings.Contains(name, "sql server"):
		return sqlServer, nil
	case name == "postgres" || name == "postgresql" || name == "pgx":
		return postgres, nil
	}
	return nil, fmt.Errorf("unsupported sql_driver %q: expected sqlserver, an ODBC SQL Server driver name, or postgres", driver)
}
