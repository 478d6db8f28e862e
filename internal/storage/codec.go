package storage

import (
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// spanColumns is the column list shared by both backends' span queries.
var spanColumns = []string{
	"trace_id", "span_id", "parent_span_id", "name", "input", "output",
	"started_at", "ended_at", "usage", "model", "metadata", "error", "created_at",
}

// encodeSpanJSON marshals the JSON-typed span columns, mapping empty values
// to nil so they land as SQL NULL.
func encodeSpanJSON(s model.Span) (input, output, usage, metadata, spanErr []byte, err error) {
	if len(s.Input) > 0 {
		input = []byte(s.Input)
	}
	if len(s.Output) > 0 {
		output = []byte(s.Output)
	}
	if len(s.Usage) > 0 {
		usage, err = json.Marshal(s.Usage)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("storage: encode usage: %w", err)
		}
	}
	if len(s.Metadata) > 0 {
		metadata, err = json.Marshal(s.Metadata)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("storage: encode metadata: %w", err)
		}
	}
	if s.Error != nil {
		spanErr, err = json.Marshal(s.Error)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("storage: encode error: %w", err)
		}
	}
	return input, output, usage, metadata, spanErr, nil
}

// decodeSpanJSON unmarshals the JSON-typed span columns into the span.
func decodeSpanJSON(s *model.Span, input, output, usage, metadata, spanErr []byte) error {
	if len(input) > 0 {
		s.Input = json.RawMessage(input)
	}
	if len(output) > 0 {
		s.Output = json.RawMessage(output)
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &s.Usage); err != nil {
			return fmt.Errorf("storage: decode usage: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return fmt.Errorf("storage: decode metadata: %w", err)
		}
	}
	if len(spanErr) > 0 {
		s.Error = &model.SpanError{}
		if err := json.Unmarshal(spanErr, s.Error); err != nil {
			return fmt.Errorf("storage: decode error: %w", err)
		}
	}
	return nil
}
