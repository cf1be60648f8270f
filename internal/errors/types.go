// Package errors defines the sync engine's error taxonomy and classifies
// backend HTTP failures so callers can tell transient faults from rejections.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory tells callers whether a failure is worth retrying by hand.
type ErrorCategory int

const (
	// Recoverable failures are transient: 5xx, 408, 429, network faults.
	Recoverable ErrorCategory = iota

	// Irrecoverable failures are rejections: other 4xx responses.
	Irrecoverable
)

func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps a backend failure with its category.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int    // 0 for network-level failures
	Body       string // response body, for diagnostics
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// IsIrrecoverable reports whether err (or anything it wraps) is an irrecoverable ClassifiedError.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Category == Irrecoverable
	}
	return false
}

// IsNetwork reports whether err is a classified failure that never reached the backend.
func IsNetwork(err error) bool {
	var ce *ClassifiedError
	return stderrors.As(err, &ce) && ce.StatusCode == 0
}
