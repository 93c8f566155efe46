// Package sqlmcp provides read-only SQL Server (and PostgreSQL) access for
// AI agents through the Model Context Protocol (MCP).
//
// It exposes run_readonly_query, a ping tool and fourteen catalog tools
// that enumerate databases, tables, views, procedures, indexes, columns,
// constraints, foreign keys, definitions, parameters and dependencies.
//
// Every caller-authored statement passes a lexical read-only guard before
// it reaches the server: a single SELECT or WITH statement, no denylisted
// keyword outside literals and comments, no stacked statements. The guard
// is a heuristic that narrows what reaches the server. Grant the service
// identity read-only permissions as the real boundary.
//
// Results are capped at max_rows. On SQL Server a plain SELECT is rewritten
// to SELECT TOP (n+1); other shapes, and every PostgreSQL statement, are
// capped while reading. Either way the caller sees at most n rows and
// truncated=true whenever more were available.
//
// # Library Usage
//
//	p, err := sqlmcp.New(sqlmcp.Settings{
//		Host:                     "sql01",
//		Database:                 "master",
//		Driver:                   "sqlserver",
//		Encrypt:                  true,
//		ConnectionTimeoutSeconds: 30,
//		QueryTimeoutSeconds:      30,
//		MaxRows:                  500,
//		MaxQueryChars:            20000,
//		EnforceReadOnly:          true,
//		MaxConcurrentQueries:     8,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer p.Close()
//
//	// Use directly
//	output := p.RunReadonlyQuery(ctx, sqlmcp.QueryInput{Database: "Sales", Query: "SELECT * FROM dbo.Orders"})
//
//	// Or register as MCP tools
//	sqlmcp.RegisterMCPTools(mcpServer, p)
//
// Authentication is always integrated: the connection string carries no
// credentials and is never logged.
package sqlmcp
