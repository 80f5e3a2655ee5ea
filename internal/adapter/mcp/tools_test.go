package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/guillermoBallester/rowguard/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock QueryExecutor ---

type mockExecutor struct {
	result  []map[string]any
	err     error
	lastSQL string // captures the SQL passed to Execute
}

func (m *mockExecutor) Execute(_ context.Context, sql string) ([]map[string]any, error) {
	m.lastSQL = sql
	return m.result, m.err
}

// --- mock RowSource ---

// mockSource announces the statement to the registry listener before
// streaming its rows, the way a database hook does.
type mockSource struct {
	rows []port.Row
	err  error
}

func (m *mockSource) Iterate(sql string, _ ...any) port.RowIterator {
	return &mockIterator{sql: sql, rows: m.rows, err: m.err}
}

type mockIterator struct {
	sql  string
	rows []port.Row
	err  error
}

func (it *mockIterator) Each(ctx context.Context, fn port.RowFunc) error {
	domain.RegistryListener{}.OnStatement(ctx, it.sql)
	if it.err != nil {
		return it.err
	}
	for _, row := range it.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// --- recording auditor ---

type recordingAuditor struct {
	entries []port.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e port.AuditEntry) { a.entries = append(a.entries, e) }
func (a *recordingAuditor) Close() error                              { return nil }

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func callTool(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession("test", nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func setupServer(executor *mockExecutor, source *mockSource, auditor port.QueryAuditor, maxRows int) *server.MCPServer {
	logger := testLogger()
	guard := service.NewGuard(domain.NewMarkerClassifier(), nil, logger, nil, nil)
	querySvc := service.NewQueryService(domain.NewPgQueryValidator(), executor, source, guard, auditor, logger, nil, nil)
	return NewServer("test", querySvc, maxRows, logger, nil, nil)
}

// --- check_query ---

func TestCheckQuery(t *testing.T) {
	tests := []struct {
		sql   string
		bound string
		safe  bool
	}{
		{"SELECT * FROM users", "unbounded", false},
		{"SELECT * FROM users LIMIT 1", "limit", true},
		{"SELECT * FROM users WHERE id IN (1, 2, 3)", "key_set", true},
	}
	s := setupServer(&mockExecutor{}, &mockSource{}, nil, 10)

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			result := callTool(t, s, "check_query", map[string]any{"sql": tt.sql})
			require.False(t, result.IsError, toolText(result))

			var res service.CheckResult
			require.NoError(t, json.Unmarshal([]byte(toolText(result)), &res))
			assert.Equal(t, tt.sql, res.SQL)
			assert.Equal(t, tt.bound, res.Bound)
			assert.Equal(t, tt.safe, res.Safe)
		})
	}
}

func TestCheckQuery_RejectsWrites(t *testing.T) {
	s := setupServer(&mockExecutor{}, &mockSource{}, nil, 10)

	result := callTool(t, s, "check_query", map[string]any{"sql": "DELETE FROM users"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "only SELECT queries are allowed")
}

// --- query ---

func TestQuery_HappyPath(t *testing.T) {
	executor := &mockExecutor{
		result: []map[string]any{{"id": 1, "name": "alice"}},
	}
	s := setupServer(executor, &mockSource{}, nil, 10)

	result := callTool(t, s, "query", map[string]any{"sql": "SELECT id, name FROM users"})
	text := toolText(result)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
	assert.Equal(t, "SELECT id, name FROM users", executor.lastSQL)
}

func TestQuery_MissingSQL(t *testing.T) {
	s := setupServer(&mockExecutor{}, &mockSource{}, nil, 10)

	result := callTool(t, s, "query", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "sql is required")
}

func TestQuery_ExecutorError(t *testing.T) {
	executor := &mockExecutor{err: fmt.Errorf("connection timeout")}
	s := setupServer(executor, &mockSource{}, nil, 10)

	result := callTool(t, s, "query", map[string]any{"sql": "SELECT 1"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
	assert.NotContains(t, toolText(result), "connection timeout")
}

func TestQuery_ValidationErrorPassthrough(t *testing.T) {
	s := setupServer(&mockExecutor{}, &mockSource{}, nil, 10)

	result := callTool(t, s, "query", map[string]any{"sql": "DROP TABLE users"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "only SELECT queries are allowed")
}

// --- iterate ---

func TestIterate_Bounded(t *testing.T) {
	source := &mockSource{rows: []port.Row{{"id": 1}, {"id": 2}}}
	s := setupServer(&mockExecutor{}, source, nil, 10)

	result := callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users LIMIT 2"})
	require.False(t, result.IsError, toolText(result))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &rows))
	assert.Len(t, rows, 2)
}

func TestIterate_EmptyResultIsArray(t *testing.T) {
	s := setupServer(&mockExecutor{}, &mockSource{}, nil, 10)

	result := callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users WHERE id IN (42)"})
	require.False(t, result.IsError, toolText(result))
	assert.Equal(t, "[]", toolText(result))
}

func TestIterate_UnboundedRejected(t *testing.T) {
	source := &mockSource{rows: []port.Row{{"id": 1}}}
	s := setupServer(&mockExecutor{}, source, nil, 10)

	result := callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "SELECT id FROM users")
	assert.Contains(t, toolText(result), "LIMIT")
}

func TestIterate_RowLimit(t *testing.T) {
	source := &mockSource{rows: []port.Row{{"id": 1}, {"id": 2}, {"id": 3}}}
	s := setupServer(&mockExecutor{}, source, nil, 2)

	result := callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users LIMIT 3"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "row limit exceeded")
}

func TestIterate_UnboundedOverRowLimitRejected(t *testing.T) {
	source := &mockSource{rows: []port.Row{{"id": 1}, {"id": 2}, {"id": 3}}}
	auditor := &recordingAuditor{}
	s := setupServer(&mockExecutor{}, source, auditor, 2)

	result := callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "unpaginated row iteration")
	assert.NotContains(t, toolText(result), "row limit exceeded")

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "unbounded", auditor.entries[0].Verdict)
	assert.ErrorIs(t, auditor.entries[0].Err, domain.ErrUnsafeQuery)
}

func TestIterate_SourceErrorSanitized(t *testing.T) {
	source := &mockSource{err: fmt.Errorf("relation OID 12345 vanished")}
	s := setupServer(&mockExecutor{}, source, nil, 10)

	result := callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users LIMIT 1"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
	assert.NotContains(t, toolText(result), "OID")
}

func TestIterate_AuditsToolName(t *testing.T) {
	auditor := &recordingAuditor{}
	s := setupServer(&mockExecutor{}, &mockSource{rows: []port.Row{{"id": 1}}}, auditor, 10)

	callTool(t, s, "iterate", map[string]any{"sql": "SELECT id FROM users"})

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "iterate", auditor.entries[0].Tool)
	assert.Equal(t, "unbounded", auditor.entries[0].Verdict)
	assert.ErrorIs(t, auditor.entries[0].Err, domain.ErrUnsafeQuery)
}

// --- sanitizeError tests ---

func TestSanitizeError_Passthrough(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"empty query", domain.ErrEmptyQuery, "empty query"},
		{"not allowed", domain.ErrNotAllowed, "only SELECT"},
		{"multi statement", domain.ErrMultiStatement, "multiple statements"},
		{"parse error", fmt.Errorf("%w: syntax error", domain.ErrParseFailed), "failed to parse SQL"},
		{"row limit", fmt.Errorf("%w: more than 5 rows", domain.ErrRowLimit), "more than 5 rows"},
		{"unsafe query", domain.NewUnsafeQueryError("SELECT * FROM users", domain.BoundNone, 0), "SELECT * FROM users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sanitizeError(logger, tt.err, "query")
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestSanitizeError_Timeout(t *testing.T) {
	logger := testLogger()

	msg := sanitizeError(logger, context.DeadlineExceeded, "query")
	assert.Contains(t, msg, "query timed out")

	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	msg = sanitizeError(logger, pgErr, "iterate")
	assert.Contains(t, msg, "query timed out")
}

func TestSanitizeError_Generic(t *testing.T) {
	msg := sanitizeError(testLogger(), fmt.Errorf("unexpected pg error: relation OID 12345"), "iterate")
	assert.Contains(t, msg, "internal error")
	assert.Contains(t, msg, "check server logs")
	assert.NotContains(t, msg, "OID")
}
