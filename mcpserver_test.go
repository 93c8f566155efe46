package sqlmcp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mark3labs/mcp-go/server"
)

// mcpTestServer serves the registered tools over streamable HTTP.
type mcpTestServer struct {
	mocks   *mockServer
	baseURL string
}

// startMCPTestServer registers the tools on a stateless streamable HTTP
// handler mounted at /mcp. A non-empty healthCheckPath adds a health route
// on the same mux.
func startMCPTestServer(t *testing.T, settings Settings, healthCheckPath string) *mcpTestServer {
	t.Helper()

	mcpServer, mocks := newTestMCPServer(t, settings)

	mux := http.NewServeMux()
	if healthCheckPath != "" {
		mux.HandleFunc(healthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &mcpTestServer{mocks: mocks, baseURL: ts.URL}
}

// jsonRPC sends a JSON-RPC request to the MCP endpoint and returns the parsed response.
func (s *mcpTestServer) jsonRPC(t *testing.T, method string, params any) map[string]any {
	t.Helper()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(s.baseURL+"/mcp", "application/json", strings.NewReader(string(bodyBytes)))
	if err != nil {
		t.Fatalf("JSON-RPC request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v; body: %s", err, string(respBody))
	}
	return result
}

func TestMCPServer_QueryTool(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, testSettings(), "")
	s.mocks.mock("Sales").ExpectQuery(`SELECT TOP \(501\) id, name FROM dbo\.Customers ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "alice").AddRow(int64(2), "bob"))

	result := s.jsonRPC(t, "tools/call", map[string]any{
		"name": "run_readonly_query",
		"arguments": map[string]any{
			"database": "Sales",
			"query":    "SELECT id, name FROM dbo.Customers ORDER BY id",
		},
	})

	resultObj, ok := result["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T: %v", result["result"], result["result"])
	}
	content, ok := resultObj["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("expected content array, got %v", resultObj["content"])
	}
	firstContent := content[0].(map[string]any)
	if firstContent["type"] != "text" {
		t.Fatalf("expected content type 'text', got %q", firstContent["type"])
	}

	var out QueryOutput
	if err := json.Unmarshal([]byte(firstContent["text"].(string)), &out); err != nil {
		t.Fatalf("failed to parse query output: %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out.Rows))
	}
	if out.Rows[0]["name"] != "alice" {
		t.Fatalf("expected 'alice', got %v", out.Rows[0]["name"])
	}
}

func TestMCPServer_HealthCheckAndMCPCoexist(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, testSettings(), "/healthz")

	resp, err := http.Get(s.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health check request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check: expected 200, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected health body %q", string(body))
	}

	result := s.jsonRPC(t, "tools/call", map[string]any{
		"name":      "ping",
		"arguments": map[string]any{},
	})
	resultObj := result["result"].(map[string]any)
	if resultObj["isError"] == true {
		t.Fatalf("ping returned error: %v", resultObj)
	}
}

func TestMCPServer_ToolsList(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, testSettings(), "")

	result := s.jsonRPC(t, "tools/list", map[string]any{})
	resultObj := result["result"].(map[string]any)
	tools, ok := resultObj["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools array, got %T: %v", resultObj["tools"], resultObj["tools"])
	}
	if len(tools) != 16 {
		t.Fatalf("expected 16 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		annotations, _ := tool.(map[string]any)["annotations"].(map[string]any)
		if annotations["readOnlyHint"] != true {
			t.Fatalf("tool %v is not annotated read-only", tool.(map[string]any)["name"])
		}
	}
}
