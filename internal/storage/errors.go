package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrTraceNotFound wraps ErrNotFound so callers can use
// errors.Is(err, ErrNotFound) generically.
var ErrTraceNotFound = fmt.Errorf("storage: trace: %w", ErrNotFound)

// ErrSpanNotFound wraps ErrNotFound for span lookups.
var ErrSpanNotFound = fmt.Errorf("storage: span: %w", ErrNotFound)
