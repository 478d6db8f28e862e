package kiroku

import (
	"encoding/json"
	"time"
)

// SpanInput is one span as submitted for ingestion.
type SpanInput struct {
	SpanID       string           `json:"span_id"`
	TraceID      string           `json:"trace_id"`
	ParentSpanID *string          `json:"parent_span_id,omitempty"`
	Name         string           `json:"name"`
	Input        json.RawMessage  `json:"input,omitempty"`
	Output       json.RawMessage  `json:"output,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
	Usage        map[string]int64 `json:"usage,omitempty"`
	Model        *string          `json:"model,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	Error        *SpanError       `json:"error,omitempty"`
}

// Span is a committed span as returned by the server.
type Span struct {
	SpanID       string           `json:"span_id"`
	TraceID      string           `json:"trace_id"`
	ParentSpanID *string          `json:"parent_span_id,omitempty"`
	Name         string           `json:"name"`
	Input        json.RawMessage  `json:"input,omitempty"`
	Output       json.RawMessage  `json:"output,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
	Usage        map[string]int64 `json:"usage,omitempty"`
	Model        *string          `json:"model,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	Error        *SpanError       `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SpanError describes a failure captured on a span.
type SpanError struct {
	Message string  `json:"message"`
	Type    *string `json:"type,omitempty"`
	Stack   *string `json:"stack,omitempty"`
}

// TraceView is the assembled view of a trace. RootSpanID is nil for a
// partial trace whose root has not arrived yet.
type TraceView struct {
	TraceID     string    `json:"trace_id"`
	RootSpanID  *string   `json:"root_span_id"`
	CreatedAt   time.Time `json:"created_at"`
	Spans       []Span    `json:"spans"`
	SpanCount   int       `json:"span_count"`
	OrphanCount int       `json:"orphan_count"`
}

// TraceSummary is the list-endpoint projection of a trace.
type TraceSummary struct {
	TraceID    string    `json:"trace_id"`
	RootSpanID *string   `json:"root_span_id"`
	SpanCount  int64     `json:"span_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// IngestResponse reports what a successful batch committed.
type IngestResponse struct {
	TraceIDs  []string `json:"trace_ids"`
	SpanCount int      `json:"span_count"`
}

// DeleteTraceResponse reports how many spans a trace deletion removed.
type DeleteTraceResponse struct {
	TraceID      string `json:"trace_id"`
	SpansDeleted int64  `json:"spans_deleted"`
}

// Violation identifies one offending span in a rejected batch.
type Violation struct {
	Index   int    `json:"index"`
	SpanID  string `json:"span_id"`
	TraceID string `json:"trace_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Health reports server liveness and storage connectivity.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage"`
	Uptime  int64  `json:"uptime_seconds"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type listEnvelope struct {
	Data    json.RawMessage `json:"data"`
	HasMore bool            `json:"has_more"`
}

// TracePage is one page of trace summaries.
type TracePage struct {
	Traces  []TraceSummary
	HasMore bool
}
