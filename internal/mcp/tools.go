package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/storage"
)

func (s *Server) registerTools() {
	// kiroku_get_trace: fetch a full assembled trace tree.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_get_trace",
			mcplib.WithDescription(`Fetch the assembled tree for a trace: every committed span in
start-time order, the current root span (null while the root has not arrived
yet), and the number of spans still waiting on a missing parent.

Use this to inspect what an agent actually did during a run, or to check
whether a trace is still partial before scoring it.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("The trace identifier to fetch"),
				mcplib.Required(),
			),
		),
		s.handleGetTrace,
	)

	// kiroku_get_span: fetch a single committed span.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_get_span",
			mcplib.WithDescription(`Fetch one committed span by trace and span identifier, including
its input, output, usage, and error payloads.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("The trace the span belongs to"),
				mcplib.Required(),
			),
			mcplib.WithString("span_id",
				mcplib.Description("The span identifier"),
				mcplib.Required(),
			),
		),
		s.handleGetSpan,
	)

	// kiroku_span_exists: referential validation for external records.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_span_exists",
			mcplib.WithDescription(`Check whether a committed span exists for the given trace and span
identifiers. Use this before attaching external records (scores, annotations)
to a span, so the reference is known to be valid. Reflects committed state
only: a span in an in-flight batch does not exist yet.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("The trace the span should belong to"),
				mcplib.Required(),
			),
			mcplib.WithString("span_id",
				mcplib.Description("The span identifier to verify"),
				mcplib.Required(),
			),
		),
		s.handleSpanExists,
	)
}

func (s *Server) handleGetTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	view, err := s.engine.GetTrace(ctx, traceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult(fmt.Sprintf("trace %s not found", traceID)), nil
		}
		return errorResult(fmt.Sprintf("get trace failed: %v", err)), nil
	}

	return jsonResult(view), nil
}

func (s *Server) handleGetSpan(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	spanID := request.GetString("span_id", "")
	if traceID == "" || spanID == "" {
		return errorResult("trace_id and span_id are required"), nil
	}

	span, err := s.engine.GetSpan(ctx, traceID, spanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult(fmt.Sprintf("span %s not found in trace %s", spanID, traceID)), nil
		}
		return errorResult(fmt.Sprintf("get span failed: %v", err)), nil
	}

	return jsonResult(span), nil
}

func (s *Server) handleSpanExists(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	spanID := request.GetString("span_id", "")
	if traceID == "" || spanID == "" {
		return errorResult("trace_id and span_id are required"), nil
	}

	exists, err := s.engine.SpanExists(ctx, traceID, spanID)
	if err != nil {
		return errorResult(fmt.Sprintf("existence check failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"trace_id": traceID,
		"span_id":  spanID,
		"exists":   exists,
	}), nil
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
