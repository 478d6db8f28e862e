// Package kiroku provides a Go client for the Kiroku trace ingestion API.
package kiroku

import (
	"errors"
	"fmt"
)

// Error represents an error from the Kiroku API with the HTTP status code
// and the server's error message. For rejected batches, Violations carries
// the per-span details.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Violations []Violation
}

func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("kiroku: %s (%d): %s (%d violations)",
			e.Code, e.StatusCode, e.Message, len(e.Violations))
	}
	return fmt.Sprintf("kiroku: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsBatchRejected returns true if the server rejected the batch for
// validation or conflict violations. Nothing from the batch was committed.
func IsBatchRejected(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 422
	}
	return false
}

// IsTransient returns true if the commit failed transiently and the batch
// may be resubmitted as-is.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 503
	}
	return false
}
