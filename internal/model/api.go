package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeBatchRejected = "BATCH_REJECTED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTransient     = "TRANSIENT_FAILURE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// HealthResponse reports service liveness and storage connectivity.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage"`
	Uptime  int64  `json:"uptime_seconds"`
}

// IngestRequest is the request body for POST /v1/spans. The batch is
// committed atomically: any violation rejects every span in it.
type IngestRequest struct {
	Spans []SpanInput `json:"spans"`
}

// IngestResponse is the success response for POST /v1/spans.
type IngestResponse struct {
	TraceIDs  []string `json:"trace_ids"`
	SpanCount int      `json:"span_count"`
}

// ExistsResponse is the response for the span existence check.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// DeleteTraceResponse reports how many spans a trace deletion removed.
type DeleteTraceResponse struct {
	TraceID      string `json:"trace_id"`
	SpansDeleted int64  `json:"spans_deleted"`
}
