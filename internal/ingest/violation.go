package ingest

import (
	"fmt"
	"strings"
)

// ViolationKind classifies why a span was rejected. The values are wire
// constants surfaced in API error details.
type ViolationKind string

const (
	// ViolationMalformed: missing required field, invalid time ordering, or
	// a non-scalar metadata value.
	ViolationMalformed ViolationKind = "malformed_span"

	// ViolationDuplicate: span identifier already committed, or repeated
	// within the batch, for the same trace.
	ViolationDuplicate ViolationKind = "duplicate_span"

	// ViolationInvalidParent: declared parent belongs to a different trace.
	ViolationInvalidParent ViolationKind = "invalid_parent"

	// ViolationCycle: proposed link would create a parent cycle.
	ViolationCycle ViolationKind = "circular_reference"

	// ViolationRootConflict: a second parentless span for a trace that
	// already has a root.
	ViolationRootConflict ViolationKind = "root_conflict"
)

// Violation identifies one offending span within a rejected batch, by
// position and identifier, with its violation kind.
type Violation struct {
	Index   int           `json:"index"`
	SpanID  string        `json:"span_id"`
	TraceID string        `json:"trace_id"`
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
}

// BatchError reports every violation detected in a rejected batch. Nothing
// from the batch was committed; the caller must fix and resubmit.
type BatchError struct {
	Violations []Violation
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingest: batch rejected with %d violation(s)", len(e.Violations))
	for i, v := range e.Violations {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Violations)-i)
			break
		}
		fmt.Fprintf(&b, "; [%d] %s %s: %s", v.Index, v.SpanID, v.Kind, v.Message)
	}
	return b.String()
}
