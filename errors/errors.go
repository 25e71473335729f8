// Package errors provides error handling for emx.
//
// This package re-exports github.com/cockroachdb/errors so every package
// gets stack traces, wrapping, hints and details from one import path.
//
// Usage:
//
//	if err := store.Create(ctx, run); err != nil {
//	    return errors.Wrap(err, "failed to create run")
//	}
//
//	err = errors.WithDetail(err, fmt.Sprintf("Run ID: %s", id))
//
//	if errors.Is(err, errors.ErrAlreadyExtracted) {
//	    // show the existing run instead
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// WithSecondaryError attaches an error that occurred while handling err.
var WithSecondaryError = crdb.WithSecondaryError

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Common sentinel errors. Wrap them to add context; check with Is.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// Extraction lifecycle sentinels.
var (
	// ErrAlreadyExtracted is returned when a completed run already covers
	// the same set, model, prompt and software version.
	ErrAlreadyExtracted = New("already extracted")

	// ErrRunCompleted is returned when resuming a run that finished cleanly.
	ErrRunCompleted = New("run already completed")

	// ErrRunActive is returned when resuming a run that is still running.
	ErrRunActive = New("run is still running")

	// ErrInvalidTransition is returned when a job cannot move to the
	// requested status from its current one.
	ErrInvalidTransition = New("invalid status transition")

	// ErrCancelled marks a run that stopped because it was cancelled.
	ErrCancelled = New("extraction cancelled")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
