package sqlmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fde-labs/fde-sql-mcp/internal/dialect"
)

// catalogDescriptions are the tool descriptions shown to clients.
var catalogDescriptions = map[dialect.Tool]string{
	dialect.ListDatabases:                 "List databases visible to the service identity on the configured server.",
	dialect.ListTables:                    "List tables in the specified database. Returns schema, table name, and creation/modification metadata.",
	dialect.ListViews:                     "List views in the specified database along with schema and timestamps.",
	dialect.ListStoredProcedures:          "List stored procedures in the specified database with metadata.",
	dialect.ListIndexes:                   "List indexes for tables in the specified database.",
	dialect.ListTableColumns:              "List the columns of a table with data type, length, precision, nullability, identity and default.",
	dialect.ListViewColumns:               "List the columns of a view with data type and nullability.",
	dialect.ListTableConstraints:          "List primary key, unique, check and default constraints of a table.",
	dialect.ListForeignKeys:               "List foreign keys of a table with referenced table, column pairs and referential actions.",
	dialect.ListIndexDetails:              "List the indexes of a table with their key and included columns.",
	dialect.ListViewDefinition:            "Return the SQL definition of a view.",
	dialect.ListStoredProcedureDefinition: "Return the SQL definition of a stored procedure.",
	dialect.ListStoredProcedureParameters: "List the parameters of a stored procedure in declaration order.",
	dialect.ListObjectDependencies:        "List the objects an object references and the objects that reference it.",
}

// RegisterMCPTools registers ping, run_readonly_query and every catalog tool
// on the given MCP server.
func RegisterMCPTools(mcpServer *server.MCPServer, sqlMcp *SQLMcp) {
	pingTool := mcp.NewTool("ping",
		mcp.WithDescription("Health check to verify the MCP server is running."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(pingTool, sqlMcp.loggedToolHandler("ping", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("pong"), nil
	}))

	queryTool := mcp.NewTool("run_readonly_query",
		mcp.WithDescription(fmt.Sprintf(
			"Run a single read-only SELECT or WITH query against the specified database. "+
				"Returns {columns, rows, row_count, row_limit, truncated}. At most %d rows are returned; "+
				"pass max_rows to lower the cap.", sqlMcp.settings.MaxRows)),
		mcp.WithString("database",
			mcp.Required(),
			mcp.Description("The database to run the query in"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL query to execute"),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Optional row cap; values above the server ceiling are lowered to it"),
			mcp.Min(1),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(queryTool, sqlMcp.loggedToolHandler("run_readonly_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		database, err := req.RequireString("database")
		if err != nil {
			return sqlMcp.errorResult(&ValidationError{Rule: "database", Reason: "database parameter is required"}), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return sqlMcp.errorResult(&ValidationError{Rule: "query", Reason: "query parameter is required"}), nil
		}
		maxRows, err := optionalInt(req.GetArguments(), "max_rows")
		if err != nil {
			return sqlMcp.errorResult(&ValidationError{Rule: "max_rows", Reason: err.Error()}), nil
		}

		output := sqlMcp.RunReadonlyQuery(ctx, QueryInput{Database: database, Query: query, MaxRows: maxRows})
		if output.Error != nil {
			return toolErrorResult(output.Error), nil
		}
		return jsonResult(output, "query result"), nil
	}))

	for _, tool := range dialect.Tools {
		mcpServer.AddTool(catalogTool(tool), sqlMcp.loggedToolHandler(string(tool), sqlMcp.catalogHandler(tool)))
	}
}

func catalogTool(tool dialect.Tool) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(catalogDescriptions[tool]),
	}
	if tool != dialect.ListDatabases {
		opts = append(opts, mcp.WithString("database",
			mcp.Required(),
			mcp.Description("The database to inspect"),
		))
	}
	if tool.Scoped() {
		opts = append(opts,
			mcp.WithString("schema",
				mcp.Required(),
				mcp.Description("The schema that owns the object, e.g. dbo"),
			),
			mcp.WithString(tool.ObjectParam(),
				mcp.Required(),
				mcp.Description("The object name without schema"),
			),
		)
	}
	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
	return mcp.NewTool(string(tool), opts...)
}

func (p *SQLMcp) catalogHandler(tool dialect.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input := CatalogInput{Database: p.settings.Database}
		if tool != dialect.ListDatabases {
			database, err := req.RequireString("database")
			if err != nil {
				return p.errorResult(&ValidationError{Rule: "database", Reason: "database parameter is required"}), nil
			}
			input.Database = database
		}
		if tool.Scoped() {
			input.Schema = req.GetString("schema", "")
			input.Name = req.GetString(tool.ObjectParam(), "")
		}

		output, err := p.Catalog(ctx, tool, input)
		if err != nil {
			return p.errorResult(err), nil
		}
		return jsonResult(output, string(tool)+" result"), nil
	}
}

// loggedToolHandler wraps a tool handler to log request and response
// lengths and to record tool metrics.
func (p *SQLMcp) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID := uuid.NewString()
		start := time.Now()
		reqLen := requestLength(req)

		result, err := handler(ctx, req)

		duration := time.Since(start)
		outcome := "ok"
		if result != nil && result.IsError {
			outcome = errorKindOf(result)
		}
		p.metrics.ObserveTool(tool, outcome, duration)
		p.logger.Info().
			Str("tool", tool).
			Str("request_id", requestID).
			Int("request_bytes", reqLen).
			Int("response_bytes", resultLength(result)).
			Dur("duration", duration).
			Str("outcome", outcome).
			Msg("tool call")
		return result, err
	}
}

// errorResult converts err into an error tool result.
func (p *SQLMcp) errorResult(err error) *mcp.CallToolResult {
	return toolErrorResult(p.handleError(err))
}

func toolErrorResult(te *ToolError) *mcp.CallToolResult {
	b, err := json.Marshal(struct {
		Error *ToolError `json:"error"`
	}{te})
	if err != nil {
		return mcp.NewToolResultError(te.Message)
	}
	return mcp.NewToolResultError(string(b))
}

func jsonResult(v any, what string) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return toolErrorResult(&ToolError{Kind: KindUnknown, Message: "failed to marshal " + what})
	}
	return mcp.NewToolResultText(string(b))
}

// errorKindOf reads the kind back out of an error result for metrics.
func errorKindOf(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		tc, ok := c.(mcp.TextContent)
		if !ok {
			continue
		}
		var payload struct {
			Error ToolError `json:"error"`
		}
		if json.Unmarshal([]byte(tc.Text), &payload) == nil && payload.Error.Kind != "" {
			return string(payload.Error.Kind)
		}
	}
	return string(KindUnknown)
}

// optionalInt reads an optional integer argument. JSON numbers arrive as
// float64; numeric strings are accepted too.
func optionalInt(args map[string]any, name string) (*int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var n int
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return nil, fmt.Errorf("%s must be an integer, got %v", name, v)
		}
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %s", name, v)
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", name, v)
		}
		n = i
	default:
		return nil, fmt.Errorf("%s must be an integer, got %T", name, raw)
	}
	return &n, nil
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
