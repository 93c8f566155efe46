package sqlmcp

// QueryInput is the input for the run_readonly_query tool.
type QueryInput struct {
	Database string `json:"database"`
	Query    string `json:"query"`
	// MaxRows tightens the configured row ceiling for this call; nil uses
	// the ceiling.
	MaxRows *int `json:"max_rows,omitempty"`
}

// QueryOutput is the output of the run_readonly_query tool. All failures
// (guard rejections, connection failures, driver errors, timeouts) are
// placed in Error; callers never receive a Go error.
//
// RowCount == len(Rows) == min(matched rows, RowLimit), and Truncated
// reports that more rows were available.
type QueryOutput struct {
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	RowLimit  int              `json:"row_limit"`
	Truncated bool             `json:"truncated"`
	Error     *ToolError       `json:"error,omitempty"`
}

// ToolError is the structured error payload of a failed tool call.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CatalogInput identifies the target of a catalog tool. Schema and Name are
// only read by tools scoped to one object.
type CatalogInput struct {
	Database string `json:"database"`
	Schema   string `json:"schema,omitempty"`
	Name     string `json:"name,omitempty"`
}

// CatalogOutput is the output of every catalog tool: the rows of one fixed
// catalog statement, in the statement's order, capped at max_rows.
type CatalogOutput struct {
	Database  string           `json:"database"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	RowLimit  int              `json:"row_limit"`
	Truncated bool             `json:"truncated"`
}
