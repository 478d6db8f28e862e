package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kiroku/internal/model"
)

func validSpan() model.SpanInput {
	return model.SpanInput{
		SpanID:    "s1",
		TraceID:   "t1",
		Name:      "llm.call",
		StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidateSpanOK(t *testing.T) {
	s := validSpan()
	assert.Empty(t, ValidateSpan(&s))

	ended := s.StartedAt.Add(time.Second)
	s.EndedAt = &ended
	s.Usage = map[string]int64{"input_tokens": 10}
	assert.Empty(t, ValidateSpan(&s))
}

func TestValidateSpanProblems(t *testing.T) {
	ended := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*model.SpanInput)
		want   string
	}{
		{"missing span_id", func(s *model.SpanInput) { s.SpanID = "" }, "span_id is required"},
		{"missing trace_id", func(s *model.SpanInput) { s.TraceID = "" }, "trace_id is required"},
		{"missing name", func(s *model.SpanInput) { s.Name = "" }, "name is required"},
		{"long span_id", func(s *model.SpanInput) { s.SpanID = strings.Repeat("x", 257) }, "span_id exceeds"},
		{"long trace_id", func(s *model.SpanInput) { s.TraceID = strings.Repeat("x", 257) }, "trace_id exceeds"},
		{"long name", func(s *model.SpanInput) { s.Name = strings.Repeat("x", 1025) }, "name exceeds"},
		{"zero started_at", func(s *model.SpanInput) { s.StartedAt = time.Time{} }, "started_at is required"},
		{"ended before started", func(s *model.SpanInput) { s.EndedAt = &ended }, "ended_at precedes started_at"},
		{"negative usage", func(s *model.SpanInput) { s.Usage = map[string]int64{"tokens": -1} }, "usage[tokens] is negative"},
		{"empty error message", func(s *model.SpanInput) { s.Error = &model.SpanError{} }, "error.message is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpan()
			tt.mutate(&s)
			problems := ValidateSpan(&s)
			if assert.NotEmpty(t, problems) {
				found := false
				for _, p := range problems {
					if strings.Contains(p, tt.want) {
						found = true
					}
				}
				assert.True(t, found, "problems %v should mention %q", problems, tt.want)
			}
		})
	}
}

func TestValidateSpanReportsAllProblems(t *testing.T) {
	s := model.SpanInput{}
	problems := ValidateSpan(&s)
	assert.GreaterOrEqual(t, len(problems), 4)
}
