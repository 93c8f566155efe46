package dialect

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	// Registers the "sqlserver" database/sql driver.
	_ "github.com/denisenkom/go-mssqldb"

	"github.com/fde-labs/fde-sql-mcp/internal/rowlimit"
	"github.com/fde-labs/fde-sql-mcp/internal/sqllex"
)

var sqlServer = &Dialect{
	Name:       SQLServer,
	DriverName: "sqlserver",
	Lexer:      sqllex.TSQL,
	// go-mssqldb rejects read-only transaction options.
	ReadOnlyTx: false,
	Rewrite:    rowlimit.InjectTop,
	dsn:        sqlServerDSN,
	catalog:    sqlServerCatalog,
}

// sqlServerDSN builds a sqlserver:// URL without user info, which makes the
// driver use integrated (SSPI/Kerberos) authentication. A host of the form
// HOST\INSTANCE addresses a named instance.
func sqlServerDSN(p ConnParams, database string) string {
	host, instance, _ := strings.Cut(p.Host, `\`)
	if p.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(p.Port))
	}

	q := url.Values{}
	q.Set("database", database)
	q.Set("encrypt", strconv.FormatBool(p.Encrypt))
	q.Set("TrustServerCertificate", strconv.FormatBool(p.TrustServerCertificate))
	if p.ConnectionTimeout > 0 {
		q.Set("connection timeout", strconv.Itoa(int(p.ConnectionTimeout.Seconds())))
		q.Set("dial timeout", strconv.Itoa(int(p.ConnectionTimeout.Seconds())))
	}
	q.Set("app name", ApplicationName)
	if p.ApplicationIntent != "" {
		q.Set("ApplicationIntent", p.ApplicationIntent)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     host,
		RawQuery: q.Encode(),
	}
	if instance != "" {
		u.Path = instance
	}
	return u.String()
}

var sqlServerCatalog = map[Tool]string{
	ListDatabases: `
SELECT name, database_id, state_desc, recovery_model_desc
FROM sys.databases
ORDER BY name`,

	ListTables: `
SELECT s.name AS schema_name, t.name AS table_name,
       t.create_date, t.modify_date, t.is_ms_shipped, t.temporal_type_desc
FROM sys.tables t
JOIN sys.schemas s ON t.schema_id = s.schema_id
ORDER BY s.name, t.name`,

	ListViews: `
SELECT s.name AS schema_name, v.name AS view_name,
       v.create_date, v.modify_date, v.is_ms_shipped
FROM sys.views v
JOIN sys.schemas s ON v.schema_id = s.schema_id
ORDER BY s.name, v.name`,

	ListStoredProcedures: `
SELECT s.name AS schema_name, p.name AS procedure_name,
       p.create_date, p.modify_date, p.is_ms_shipped, p.type_desc
FROM sys.procedures p
JOIN sys.schemas s ON p.schema_id = s.schema_id
ORDER BY s.name, p.name`,

	ListIndexes: `
SELECT s.name AS schema_name, t.name AS table_name, i.name AS index_name,
       i.type_desc, i.is_unique, i.is_primary_key, i.is_disabled, i.fill_factor
FROM sys.indexes i
JOIN sys.tables t ON i.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE i.name IS NOT NULL
ORDER BY s.name, t.name, i.name`,

	ListTableColumns: `
SELECT c.column_id, c.name AS column_name, ty.name AS data_type,
       c.max_length, c.precision, c.scale, c.is_nullable, c.is_identity,
       c.is_computed, dc.definition AS default_definition, c.collation_name
FROM sys.columns c
JOIN sys.tables t ON c.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
JOIN sys.types ty ON c.user_type_id = ty.user_type_id
LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
WHERE s.name = @p1 AND t.name = @p2
ORDER BY c.column_id`,

	ListViewColumns: `
SELECT c.column_id, c.name AS column_name, ty.name AS data_type,
       c.max_length, c.precision, c.scale, c.is_nullable, c.collation_name
FROM sys.columns c
JOIN sys.views v ON c.object_id = v.object_id
JOIN sys.schemas s ON v.schema_id = s.schema_id
JOIN sys.types ty ON c.user_type_id = ty.user_type_id
WHERE s.name = @p1 AND v.name = @p2
ORDER BY c.column_id`,

	ListTableConstraints: `
SELECT kc.name AS constraint_name, kc.type_desc AS constraint_type,
       STUFF((SELECT ', ' + col.name
              FROM sys.index_columns ic
              JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
              WHERE ic.object_id = kc.parent_object_id AND ic.index_id = kc.unique_index_id
              ORDER BY ic.key_ordinal
              FOR XML PATH('')), 1, 2, '') AS columns,
       CAST(NULL AS nvarchar(max)) AS definition
FROM sys.key_constraints kc
JOIN sys.tables t ON kc.parent_object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @p1 AND t.name = @p2
UNION ALL
SELECT cc.name, cc.type_desc,
       COL_NAME(cc.parent_object_id, NULLIF(cc.parent_column_id, 0)),
       cc.definition
FROM sys.check_constraints cc
JOIN sys.tables t ON cc.parent_object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @p1 AND t.name = @p2
UNION ALL
SELECT dc.name, dc.type_desc,
       COL_NAME(dc.parent_object_id, dc.parent_column_id),
       dc.definition
FROM sys.default_constraints dc
JOIN sys.tables t ON dc.parent_object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @p1 AND t.name = @p2
UNION ALL
SELECT fk.name, fk.type_desc,
       STUFF((SELECT ', ' + COL_NAME(fkc.parent_object_id, fkc.parent_column_id)
              FROM sys.foreign_key_columns fkc
              WHERE fkc.constraint_object_id = fk.object_id
              ORDER BY fkc.constraint_column_id
              FOR XML PATH('')), 1, 2, ''),
       'REFERENCES ' + QUOTENAME(OBJECT_SCHEMA_NAME(fk.referenced_object_id)) + '.' + QUOTENAME(OBJECT_NAME(fk.referenced_object_id))
FROM sys.foreign_keys fk
JOIN sys.tables t ON fk.parent_object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @p1 AND t.name = @p2
ORDER BY constraint_type, constraint_name`,

	ListForeignKeys: `
SELECT fk.name AS foreign_key_name, pc.name AS column_name,
       rs.name AS referenced_schema, rt.name AS referenced_table, rc.name AS referenced_column,
       fkc.constraint_column_id AS ordinal,
       fk.delete_referential_action_desc AS on_delete,
       fk.update_referential_action_desc AS on_update,
       fk.is_disabled, fk.is_not_trusted
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.tables t ON fk.parent_object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
JOIN sys.schemas rs ON rt.schema_id = rs.schema_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
WHERE s.name = @p1 AND t.name = @p2
ORDER BY fk.name, fkc.constraint_column_id`,

	ListIndexDetails: `
SELECT i.name AS index_name, i.type_desc, i.is_unique, i.is_primary_key,
       i.is_unique_constraint, i.is_disabled, i.fill_factor, i.filter_definition,
       c.name AS column_name, ic.key_ordinal, ic.is_descending_key, ic.is_included_column
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
JOIN sys.tables t ON t.object_id = i.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @p1 AND t.name = @p2 AND i.name IS NOT NULL
ORDER BY i.name, ic.is_included_column, ic.key_ordinal, c.name`,

	ListViewDefinition: `
SELECT s.name AS schema_name, v.name AS view_name, m.definition
FROM sys.views v
JOIN sys.schemas s ON v.schema_id = s.schema_id
JOIN sys.sql_modules m ON m.object_id = v.object_id
WHERE s.name = @p1 AND v.name = @p2`,

	ListStoredProcedureDefinition: `
SELECT s.name AS schema_name, p.name AS procedure_name, m.definition
FROM sys.procedures p
JOIN sys.schemas s ON p.schema_id = s.schema_id
JOIN sys.sql_modules m ON m.object_id = p.object_id
WHERE s.name = @p1 AND p.name = @p2`,

	ListStoredProcedureParameters: `
SELECT pr.parameter_id, pr.name AS parameter_name, ty.name AS data_type,
       pr.max_length, pr.precision, pr.scale, pr.is_output,
       pr.has_default_value, pr.is_nullable
FROM sys.parameters pr
JOIN sys.procedures p ON pr.object_id = p.object_id
JOIN sys.schemas s ON p.schema_id = s.schema_id
JOIN sys.types ty ON pr.user_type_id = ty.user_type_id
WHERE s.name = @p1 AND p.name = @p2
ORDER BY pr.parameter_id`,

	ListObjectDependencies: `
SELECT 'references' AS direction,
       COALESCE(d.referenced_schema_name, OBJECT_SCHEMA_NAME(d.referenced_id)) AS schema_name,
       d.referenced_entity_name AS object_name,
       o.type_desc AS object_type,
       d.referenced_database_name AS database_name
FROM sys.sql_expression_dependencies d
JOIN sys.objects src ON src.object_id = d.referencing_id
JOIN sys.schemas ss ON ss.schema_id = src.schema_id
LEFT JOIN sys.objects o ON o.object_id = d.referenced_id
WHERE ss.name = @p1 AND src.name = @p2
UNION ALL
SELECT 'referenced_by', rs.name, r.name, r.type_desc, CAST(NULL AS sysname)
FROM sys.sql_expression_dependencies d
JOIN sys.objects r ON r.object_id = d.referencing_id
JOIN sys.schemas rs ON rs.schema_id = r.schema_id
WHERE d.referenced_id = OBJECT_ID(QUOTENAME(@p1) + '.' + QUOTENAME(@p2))
ORDER BY direction, schema_name, object_name`,
}
