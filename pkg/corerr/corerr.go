// Package corerr defines the error taxonomy shared by every core component
// (spec.md §7). Each package declares its own errs.Class for wrapping, and
// uses the sentinels here so callers can classify failures with errors.Is
// regardless of which package produced them.
package corerr

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

// Sentinel kinds from spec.md §7. Wrap them with a package-local errs.Class,
// e.g. `wal.Error.Wrap(corerr.Corrupt)`, so errors.Is still matches while
// the error message carries the wrapping package's prefix.
var (
	// IoError is a read/write failure against a WAL, segment, or object
	// store file. Ingestion retries with back-off; queries fail fast.
	IoError = errors.New("io error")
	// Corrupt is a CRC or MAGIC mismatch. Halts the current file only.
	Corrupt = errors.New("corruption detected")
	// KeyNotExists is a metadata-store miss.
	KeyNotExists = errors.New("key does not exist")
	// AlreadyExists is a unique-constraint violation translated to the
	// API boundary (scheduler trigger keys, re_patterns, ...).
	AlreadyExists = errors.New("already exists")
	// CircuitOpen is a memory/disk pressure rejection; caller must retry.
	CircuitOpen = errors.New("circuit open")
	// Unsupported marks a plan shape or compression code the core does
	// not implement.
	Unsupported = errors.New("unsupported")
	// Timeout is a follower or lease deadline exceeded.
	Timeout = errors.New("timeout")
	// Cancelled is a leader-dropped request; followers cease at the next
	// batch boundary.
	Cancelled = errors.New("cancelled")
)

// Code is the stable, client-facing string carried across the gRPC
// boundary inside tonic-style status payloads (spec.md §7).
type Code string

// Known error codes. Keep these stable: clients key off the string.
const (
	CodeIO              Code = "io_error"
	CodeCorruption      Code = "corruption"
	CodeNotFound        Code = "not_found"
	CodeAlreadyExists   Code = "already_exists"
	CodeCircuitOpen     Code = "circuit_open"
	CodeUnsupported     Code = "unsupported"
	CodeTimeout         Code = "timeout"
	CodeCancelled       Code = "cancelled"
	CodeServerInternal  Code = "server_internal_error"
)

// CodeFor classifies err against the sentinel kinds, defaulting to
// CodeServerInternal. traceID is carried alongside for logging at the call
// site; CodeFor does not embed it, since the struct travelling the wire
// (Status) is {trace_id, error_code, message}.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, IoError):
		return CodeIO
	case errors.Is(err, Corrupt):
		return CodeCorruption
	case errors.Is(err, KeyNotExists):
		return CodeNotFound
	case errors.Is(err, AlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, CircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, Unsupported):
		return CodeUnsupported
	case errors.Is(err, Timeout):
		return CodeTimeout
	case errors.Is(err, Cancelled):
		return CodeCancelled
	default:
		return CodeServerInternal
	}
}

// Status is the JSON payload carried inside tonic::Status::Internal at the
// gRPC boundary.
type Status struct {
	TraceID string `json:"trace_id"`
	Code    Code   `json:"error_code"`
	Message string `json:"message"`
}

// NewStatus builds the wire status for err, tagged with traceID.
func NewStatus(traceID string, err error) Status {
	return Status{TraceID: traceID, Code: CodeFor(err), Message: err.Error()}
}

// Wrap joins kind (one of the sentinels above) with the underlying cause
// so that errors.Is matches both: errors.Is(result, corerr.IoError) and
// errors.Is(result, cause). Go's multi-%w support (1.20+) gives this for
// free without depending on errs.Combine's unwrap semantics.
func Wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Class is re-exported so packages can write `errs.Class` without a second
// import; kept as a type alias rather than a wrapper to avoid losing
// errs.Class's methods (Wrap, Has, New).
type Class = errs.Class
