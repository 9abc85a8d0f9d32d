// Package fault defines the error kinds surfaced by the attendance service.
//
// Each kind is a concrete type so callers can branch on it with errors.As
// regardless of how many annotations were added on the way up:
//
//   - UpstreamError: the roster source failed or returned malformed data.
//   - PersistenceError: the durable attendance log could not be written.
//   - ValidationError: caller input was rejected before any I/O.
//   - ColdStartError: no roster was ever loaded and loading failed.
package fault

import (
	"fmt"

	"github.com/juju/errors"
)

// Kind is a stable, transport-neutral name for an error category.
type Kind string

const (
	KindUpstream    Kind = "upstream"
	KindPersistence Kind = "persistence"
	KindValidation  Kind = "validation"
	KindColdStart   Kind = "cold_start"
	KindInternal    Kind = "internal"
)

// UpstreamError reports a roster source failure.
type UpstreamError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable upstream failure.
func Transient(op string, err error) error {
	return &UpstreamError{Op: op, Retryable: true, Err: err}
}

// Permanent wraps err as an upstream failure that retrying cannot fix.
func Permanent(op string, err error) error {
	return &UpstreamError{Op: op, Retryable: false, Err: err}
}

// PersistenceError reports a durable log write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports rejected caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ColdStartError reports that the roster has never loaded.
type ColdStartError struct {
	Err error
}

func (e *ColdStartError) Error() string {
	return fmt.Sprintf("roster not loaded: %v", e.Err)
}

func (e *ColdStartError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a retryable UpstreamError.
func IsRetryable(err error) bool {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Retryable
	}
	return false
}

// KindOf classifies err. ColdStartError wins over the UpstreamError it wraps.
func KindOf(err error) Kind {
	var (
		cold *ColdStartError
		up   *UpstreamError
		pe   *PersistenceError
		ve   *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &cold):
		return KindColdStart
	case errors.As(err, &up):
		return KindUpstream
	case errors.As(err, &pe):
		return KindPersistence
	}
	return KindInternal
}
