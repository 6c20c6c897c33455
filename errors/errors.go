// Package errors provides error handling for batchcore.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured details attached to errors
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrJobNotFound) {
//	    // handle missing job
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the batch core.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrJobNotFound indicates the requested job does not exist
	ErrJobNotFound = New("job not found")

	// ErrDuplicateJob indicates a job with the same idempotency key already exists.
	// Callers receive the existing job alongside this error; re-submission is safe.
	ErrDuplicateJob = New("duplicate job")

	// ErrJobAlreadyRunning indicates another runner holds the job's execution lease.
	// This is a retryable condition: the caller may wait and re-invoke.
	ErrJobAlreadyRunning = New("job already running")

	// ErrTaskNotRegistered indicates no task is registered under the requested name.
	// This is a configuration error surfaced before any item executes.
	ErrTaskNotRegistered = New("task not registered")

	// ErrTaskAlreadyRegistered indicates a duplicate task registration at startup
	ErrTaskAlreadyRegistered = New("task already registered")

	// ErrScheduleInvalid indicates a malformed schedule definition
	ErrScheduleInvalid = New("invalid schedule")
)

// IsRetryable reports whether the error represents a transient condition the
// caller may safely retry, as opposed to a configuration mistake.
func IsRetryable(err error) bool {
	return err != nil && Is(err, ErrJobAlreadyRunning)
}
