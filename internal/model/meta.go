package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MetaKind discriminates the closed set of scalar metadata value types.
type MetaKind uint8

const (
	MetaNull MetaKind = iota
	MetaString
	MetaNumber
	MetaBool
)

// ErrNonScalarMeta is returned when a metadata value is an array or object.
// Nested structures are rejected outright, never silently flattened.
var ErrNonScalarMeta = fmt.Errorf("model: metadata value must be a scalar (string, number, boolean, or null)")

// MetaValue is a tagged scalar: string, number, boolean, or null.
// The zero value is null. Construct non-null values with MetaString,
// MetaNum, or MetaBool so the type stays closed.
type MetaValue struct {
	kind MetaKind
	str  string
	num  float64
	b    bool
}

// MetaStr returns a string metadata value.
func MetaStr(s string) MetaValue { return MetaValue{kind: MetaString, str: s} }

// MetaNum returns a numeric metadata value.
func MetaNum(n float64) MetaValue { return MetaValue{kind: MetaNumber, num: n} }

// MetaBoolVal returns a boolean metadata value.
func MetaBoolVal(b bool) MetaValue { return MetaValue{kind: MetaBool, b: b} }

// Kind returns the value's type tag.
func (v MetaValue) Kind() MetaKind { return v.kind }

// Value returns the underlying Go value (string, float64, bool, or nil).
func (v MetaValue) Value() any {
	switch v.kind {
	case MetaString:
		return v.str
	case MetaNumber:
		return v.num
	case MetaBool:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON encodes the scalar as its plain JSON form.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case MetaString:
		return json.Marshal(v.str)
	case MetaNumber:
		return json.Marshal(v.num)
	case MetaBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a scalar JSON value, rejecting arrays and objects.
func (v *MetaValue) UnmarshalJSON(data []byte) error {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return ErrNonScalarMeta
		}
		break
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("model: decode metadata value: %w", err)
	}

	switch t := raw.(type) {
	case nil:
		*v = MetaValue{}
	case string:
		*v = MetaStr(t)
	case bool:
		*v = MetaBoolVal(t)
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return fmt.Errorf("model: metadata number %q: %w", t.String(), err)
		}
		*v = MetaNum(f)
	default:
		return ErrNonScalarMeta
	}
	return nil
}

// Metadata maps caller-supplied keys to scalar values. The value type is
// closed: any nested structure fails JSON decoding with ErrNonScalarMeta.
type Metadata map[string]MetaValue
