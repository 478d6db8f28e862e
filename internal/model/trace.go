package model

import "time"

// Trace is the implicitly-created set of spans sharing a trace identifier.
// A trace row is never created explicitly; it comes into existence with the
// first successfully committed span bearing its identifier, and created_at
// is that span's commit time.
type Trace struct {
	TraceID    string    `json:"trace_id"`
	RootSpanID *string   `json:"root_span_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// TraceView is the assembled read-path view of a trace: all committed spans
// ordered by start time plus the current root. RootSpanID is null for a
// partial trace whose root has not arrived yet; that is a valid state, not
// an error.
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
