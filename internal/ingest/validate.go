package ingest

import (
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ValidateSpan checks the intrinsic, state-independent constraints on one
// submitted span. It returns one message per violated constraint so a caller
// can report all of them at once.
func ValidateSpan(s *model.SpanInput) []string {
	var problems []string

	switch {
	case s.SpanID == "":
		problems = append(problems, "span_id is required")
	case len(s.SpanID) > model.MaxSpanIDLen:
		problems = append(problems, fmt.Sprintf("span_id exceeds %d characters", model.MaxSpanIDLen))
	}

	switch {
	case s.TraceID == "":
		problems = append(problems, "trace_id is required")
	case len(s.TraceID) > model.MaxTraceIDLen:
		problems = append(problems, fmt.Sprintf("trace_id exceeds %d characters", model.MaxTraceIDLen))
	}

	switch {
	case s.Name == "":
		problems = append(problems, "name is required")
	case len(s.Name) > model.MaxNameLen:
		problems = append(problems, fmt.Sprintf("name exceeds %d characters", model.MaxNameLen))
	}

	if s.StartedAt.IsZero() {
		problems = append(problems, "started_at is required")
	} else if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		problems = append(problems, "ended_at precedes started_at")
	}

	for k, v := range s.Usage {
		if v < 0 {
			problems = append(problems, fmt.Sprintf("usage[%s] is negative", k))
		}
	}

	if s.Error != nil && s.Error.Message == "" {
		problems = append(problems, "error.message is required when error is set")
	}

	return problems
}
