package dialect

import (
	"strconv"
	"strings"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fde-labs/fde-sql-mcp/internal/sqllex"
)

var postgres = &Dialect{
	Name:       PostgreSQL,
	DriverName: "pgx",
	Lexer:      sqllex.PostgreSQL,
	ReadOnlyTx: true,
	dsn:        postgresDSN,
	catalog:    postgresCatalog,
}

// postgresDSN builds a keyword/value connection string without a user or
// password, so libpq-style defaults (OS user, GSSAPI, peer) apply.
func postgresDSN(p ConnParams, database string) string {
	pairs := [][2]string{
		{"host", p.Host},
		{"dbname", database},
		{"sslmode", postgresSSLMode(p)},
		{"application_name", ApplicationName},
	}
	if p.Port > 0 {
		pairs = append(pairs, [2]string{"port", strconv.Itoa(p.Port)})
	}
	if p.ConnectionTimeout > 0 {
		pairs = append(pairs, [2]string{"connect_timeout", strconv.Itoa(int(p.ConnectionTimeout.Seconds()))})
	}
	switch strings.ToLower(p.ApplicationIntent) {
	case "readonly":
		pairs = append(pairs, [2]string{"target_session_attrs", "prefer-standby"})
	case "readwrite":
		pairs = append(pairs, [2]string{"target_session_attrs", "read-write"})
	}

	parts := make([]string, len(pairs))
	for i, kv := range pairs {
		parts[i] = kv[0] + "=" + quoteDSNValue(kv[1])
	}
	return strings.Join(parts, " ")
}

func postgresSSLMode(p ConnParams) string {
	switch {
	case !p.Encrypt:
		return "disable"
	case p.TrustServerCertificate:
		return "require"
	default:
		return "verify-full"
	}
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

var postgresCatalog = map[Tool]string{
	ListDatabases: `
SELECT datname AS name, oid AS database_id,
       datallowconn AS allow_connections,
       pg_catalog.pg_encoding_to_char(encoding) AS encoding
FROM pg_catalog.pg_database
WHERE NOT datistemplate
ORDER BY datname`,

	ListTables: `
SELECT n.nspname AS schema_name, c.relname AS table_name,
       CASE c.relkind
           WHEN 'r' THEN 'table'
           WHEN 'f' THEN 'foreign_table'
           WHEN 'p' THEN 'partitioned_table'
       END AS type,
       pg_catalog.pg_get_userbyid(c.relowner) AS owner
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
ORDER BY n.nspname, c.relname`,

	ListViews: `
SELECT n.nspname AS schema_name, c.relname AS view_name,
       CASE c.relkind WHEN 'v' THEN 'view' WHEN 'm' THEN 'materialized_view' END AS type,
       pg_catalog.pg_get_userbyid(c.relowner) AS owner
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('v', 'm')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
ORDER BY n.nspname, c.relname`,

	ListStoredProcedures: `
SELECT n.nspname AS schema_name, p.proname AS procedure_name,
       CASE p.prokind WHEN 'p' THEN 'procedure' ELSE 'function' END AS type_desc,
       pg_catalog.pg_get_function_identity_arguments(p.oid) AS arguments
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE p.prokind IN ('p', 'f')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
ORDER BY n.nspname, p.proname, arguments`,

	ListIndexes: `
SELECT pi.schemaname AS schema_name, pi.tablename AS table_name, pi.indexname AS index_name,
       i.indisunique AS is_unique, i.indisprimary AS is_primary_key,
       NOT i.indisvalid AS is_disabled
FROM pg_catalog.pg_indexes pi
JOIN pg_catalog.pg_namespace n ON n.nspname = pi.schemaname
JOIN pg_catalog.pg_class c ON c.relname = pi.indexname AND c.relnamespace = n.oid
JOIN pg_catalog.pg_index i ON i.indexrelid = c.oid
WHERE pi.schemaname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
ORDER BY pi.schemaname, pi.tablename, pi.indexname`,

	ListTableColumns: `
SELECT c.ordinal_position AS column_id, c.column_name, c.data_type,
       c.character_maximum_length AS max_length,
       c.numeric_precision AS precision, c.numeric_scale AS scale,
       c.is_nullable = 'YES' AS is_nullable,
       c.is_identity = 'YES' AS is_identity,
       c.is_generated = 'ALWAYS' AS is_computed,
       c.column_default AS default_definition,
       c.collation_name
FROM information_schema.columns c
JOIN pg_catalog.pg_namespace n ON n.nspname = c.table_schema
JOIN pg_catalog.pg_class t ON t.relname = c.table_name AND t.relnamespace = n.oid
WHERE c.table_schema = $1 AND c.table_name = $2
  AND t.relkind IN ('r', 'f', 'p')
ORDER BY c.ordinal_position`,

	ListViewColumns: `
SELECT a.attnum AS column_id, a.attname AS column_name,
       pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
       NOT a.attnotnull AS is_nullable
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2
  AND c.relkind IN ('v', 'm')
  AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`,

	ListTableConstraints: `
SELECT con.conname AS constraint_name,
       CASE con.contype
           WHEN 'p' THEN 'PRIMARY_KEY_CONSTRAINT'
           WHEN 'f' THEN 'FOREIGN_KEY_CONSTRAINT'
           WHEN 'u' THEN 'UNIQUE_CONSTRAINT'
           WHEN 'c' THEN 'CHECK_CONSTRAINT'
           WHEN 'x' THEN 'EXCLUSION_CONSTRAINT'
       END AS constraint_type,
       (SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)) AS columns,
       pg_catalog.pg_get_constraintdef(con.oid, true) AS definition
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2
ORDER BY constraint_type, constraint_name`,

	ListForeignKeys: `
SELECT con.conname AS foreign_key_name,
       a.attname AS column_name,
       fn.nspname AS referenced_schema,
       fc.relname AS referenced_table,
       fa.attname AS referenced_column,
       k.ord AS ordinal,
       CASE con.confdeltype
           WHEN 'a' THEN 'NO_ACTION' WHEN 'r' THEN 'RESTRICT' WHEN 'c' THEN 'CASCADE'
           WHEN 'n' THEN 'SET_NULL' WHEN 'd' THEN 'SET_DEFAULT'
       END AS on_delete,
       CASE con.confupdtype
           WHEN 'a' THEN 'NO_ACTION' WHEN 'r' THEN 'RESTRICT' WHEN 'c' THEN 'CASCADE'
           WHEN 'n' THEN 'SET_NULL' WHEN 'd' THEN 'SET_DEFAULT'
       END AS on_update,
       NOT con.convalidated AS is_not_trusted
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
JOIN pg_catalog.pg_namespace fn ON fn.oid = fc.relnamespace
CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
JOIN pg_catalog.pg_attribute fa ON fa.attrelid = con.confrelid AND fa.attnum = k.fattnum
WHERE con.contype = 'f' AND n.nspname = $1 AND c.relname = $2
ORDER BY con.conname, k.ord`,

	ListIndexDetails: `
SELECT ic.relname AS index_name,
       am.amname AS type_desc,
       i.indisunique AS is_unique,
       i.indisprimary AS is_primary_key,
       NOT i.indisvalid AS is_disabled,
       pg_catalog.pg_get_expr(i.indpred, i.indrelid) AS filter_definition,
       pg_catalog.pg_get_indexdef(i.indexrelid, k.ord::int, true) AS column_name,
       k.ord AS key_ordinal,
       k.ord > i.indnkeyatts AS is_included_column
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
JOIN pg_catalog.pg_am am ON am.oid = ic.relam
JOIN pg_catalog.pg_class t ON t.oid = i.indrelid
JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
CROSS JOIN LATERAL generate_series(1, i.indnatts) AS k(ord)
WHERE n.nspname = $1 AND t.relname = $2
ORDER BY ic.relname, k.ord`,

	ListViewDefinition: `
SELECT n.nspname AS schema_name, c.relname AS view_name,
       pg_catalog.pg_get_viewdef(c.oid, true) AS definition
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('v', 'm')`,

	ListStoredProcedureDefinition: `
SELECT n.nspname AS schema_name, p.proname AS procedure_name,
       pg_catalog.pg_get_functiondef(p.oid) AS definition
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname = $1 AND p.proname = $2 AND p.prokind IN ('p', 'f')
ORDER BY pg_catalog.pg_get_function_identity_arguments(p.oid)`,

	ListStoredProcedureParameters: `
SELECT p.ordinal_position AS parameter_id, p.parameter_name, p.data_type,
       p.parameter_mode, p.parameter_default, p.specific_name
FROM information_schema.parameters p
JOIN information_schema.routines r
  ON r.specific_schema = p.specific_schema AND r.specific_name = p.specific_name
WHERE r.routine_schema = $1 AND r.routine_name = $2
ORDER BY p.specific_name, p.ordinal_position`,

	ListObjectDependencies: `
SELECT 'references' AS direction, u.table_schema AS schema_name,
       u.table_name AS object_name, 'table' AS object_type
FROM information_schema.view_table_usage u
WHERE u.view_schema = $1 AND u.view_name = $2
UNION ALL
SELECT 'referenced_by', u.view_schema, u.view_name, 'view'
FROM information_schema.view_table_usage u
WHERE u.table_schema = $1 AND u.table_name = $2
ORDER BY direction, schema_name, object_name`,
}
