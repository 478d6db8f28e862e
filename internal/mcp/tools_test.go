package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/ingest"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

func newTestMCP(t *testing.T) (*Server, *ingest.Engine) {
	t.Helper()
	lite := testutil.MustOpenSQLite()
	t.Cleanup(func() { _ = lite.Close() })

	engine := ingest.New(lite, testutil.TestLogger())
	return New(engine, "test", testutil.TestLogger()), engine
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func seedTrace(t *testing.T, engine *ingest.Engine) {
	t.Helper()
	parent := "A"
	_, err := engine.Ingest(context.Background(), []model.SpanInput{
		{SpanID: "A", TraceID: "T1", Name: "agent.run", StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
		{SpanID: "B", TraceID: "T1", ParentSpanID: &parent, Name: "llm.call", StartedAt: time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC)},
	})
	require.NoError(t, err)
}

func TestHandleGetTrace(t *testing.T) {
	srv, engine := newTestMCP(t)
	seedTrace(t, engine)

	result, err := srv.handleGetTrace(context.Background(),
		toolRequest("kiroku_get_trace", map[string]any{"trace_id": "T1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var view model.TraceView
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &view))
	assert.Equal(t, "T1", view.TraceID)
	require.NotNil(t, view.RootSpanID)
	assert.Equal(t, "A", *view.RootSpanID)
	assert.Equal(t, 2, view.SpanCount)
}

func TestHandleGetTraceNotFound(t *testing.T) {
	srv, _ := newTestMCP(t)

	result, err := srv.handleGetTrace(context.Background(),
		toolRequest("kiroku_get_trace", map[string]any{"trace_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")
}

func TestHandleGetTraceMissingArg(t *testing.T) {
	srv, _ := newTestMCP(t)

	result, err := srv.handleGetTrace(context.Background(),
		toolRequest("kiroku_get_trace", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "trace_id is required")
}

func TestHandleGetSpan(t *testing.T) {
	srv, engine := newTestMCP(t)
	seedTrace(t, engine)

	result, err := srv.handleGetSpan(context.Background(),
		toolRequest("kiroku_get_span", map[string]any{"trace_id": "T1", "span_id": "B"}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var span model.Span
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &span))
	assert.Equal(t, "B", span.SpanID)
	assert.Equal(t, "llm.call", span.Name)
}

func TestHandleSpanExists(t *testing.T) {
	srv, engine := newTestMCP(t)
	seedTrace(t, engine)

	result, err := srv.handleSpanExists(context.Background(),
		toolRequest("kiroku_span_exists", map[string]any{"trace_id": "T1", "span_id": "A"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Exists bool `json:"exists"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.True(t, resp.Exists)

	result, err = srv.handleSpanExists(context.Background(),
		toolRequest("kiroku_span_exists", map[string]any{"trace_id": "T1", "span_id": "zzz"}))
	require.NoError(t, err)
	require.False(t, result.IsError, "a missing span is a negative answer, not an error")
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.False(t, resp.Exists)
}
