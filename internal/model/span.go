package model

import (
	"encoding/json"
	"time"
)

// Field length limits for caller-supplied span fields. These prevent a single
// oversized field from filling TEXT columns with caller-controlled garbage.
const (
	MaxSpanIDLen  = 256
	MaxTraceIDLen = 256
	MaxNameLen    = 1024
)

// Span is one operation record within a trace. Immutable once committed:
// no field may change after a successful commit, and re-submission of the
// same span ID for the same trace is a conflict, not an update.
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
	Metadata     Metadata         `json:"metadata,omitempty"`
	Error        *SpanError       `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// IsRoot reports whether the span declares no parent. Only an explicitly
// parentless committed span qualifies as a trace root; a root is never
// inferred from heuristics.
func (s *Span) IsRoot() bool {
	return s.ParentSpanID == nil || *s.ParentSpanID == ""
}

// Parent returns the declared parent span ID, or "" for a root candidate.
func (s *Span) Parent() string {
	if s.ParentSpanID == nil {
		return ""
	}
	return *s.ParentSpanID
}

// SpanError describes a failure captured on a span.
type SpanError struct {
	Message string  `json:"message"`
	Type    *string `json:"type,omitempty"`
	Stack   *string `json:"stack,omitempty"`
}

// SpanInput is a span record as submitted for ingestion, before commit
// metadata (created_at) is assigned by the engine.
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
	Metadata     Metadata         `json:"metadata,omitempty"`
	Error        *SpanError       `json:"error,omitempty"`
}

// IsRoot reports whether the submitted span declares no parent.
func (s *SpanInput) IsRoot() bool {
	return s.ParentSpanID == nil || *s.ParentSpanID == ""
}

// Parent returns the declared parent span ID, or "" for a root candidate.
func (s *SpanInput) Parent() string {
	if s.ParentSpanID == nil {
		return ""
	}
	return *s.ParentSpanID
}

// Committed returns the span as committed at the given time.
func (s *SpanInput) Committed(at time.Time) Span {
	return Span{
		SpanID:       s.SpanID,
		TraceID:      s.TraceID,
		ParentSpanID: s.ParentSpanID,
		Name:         s.Name,
		Input:        s.Input,
		Output:       s.Output,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Usage:        s.Usage,
		Model:        s.Model,
		Metadata:     s.Metadata,
		Error:        s.Error,
		CreatedAt:    at,
	}
}
