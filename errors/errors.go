// Package errors provides error handling for quarry.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
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
//	if errors.Is(err, errors.ErrVersionRegression) {
//	    // handle upstream inconsistency
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
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the ingestion and reconciliation engine.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrVersionRegression indicates a newly observed version that is not
	// strictly greater than the last fully processed one. The source
	// regressed; the run cannot continue.
	ErrVersionRegression = New("version regression")

	// ErrVersionConflict indicates two different entries claiming the same
	// (version, path) key in the version ledger. There is no automatic
	// resolution policy; the system refuses to guess.
	ErrVersionConflict = New("version conflict")

	// ErrPathConflict indicates a target path occupied by an incompatible
	// filesystem entry with uncommitted changes underneath it.
	ErrPathConflict = New("path conflict")

	// ErrAbsolutePath indicates a candidate item resolved to an absolute
	// local path, which is never allowed.
	ErrAbsolutePath = New("absolute path not allowed")

	// ErrDownload indicates a fetch failure from the downloader. Transient
	// per-item failures wrap this so callers can skip+warn when configured.
	ErrDownload = New("download failed")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsFatalForRun reports whether an ingestion-run error is unrecoverable.
// Version regressions and ledger conflicts signal upstream inconsistency
// and must abort the run; everything else may be skippable per config.
func IsFatalForRun(err error) bool {
	return err != nil && IsAny(err, ErrVersionRegression, ErrVersionConflict, ErrPathConflict)
}
