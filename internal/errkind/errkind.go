// Package errkind classifies errors by how they must be handled,
// rather than by subsystem. Call Classify (or wrap with one of the New*
// helpers) at the point an error is produced; callers upstream switch on
// Kind instead of inspecting error strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy bucket an error falls into.
type Kind int

const (
	// Unknown is the zero value: treat conservatively, same as Fatal.
	Unknown Kind = iota
	// Transient covers recoverable network failures: reconnect with
	// backoff, no surface beyond a status line.
	Transient
	// Authentication covers invalid/expired tokens: drop the hub call
	// silently, surface 401 on HTTP.
	Authentication
	// Protocol covers malformed payloads or clientId mismatches: log and
	// drop, never propagate to the UI.
	Protocol
	// Integrity covers chunk/file hash mismatches: reject the chunk or
	// refuse promotion, report a resumable error upstream.
	Integrity
	// Policy is not really an error: detector disabled, whitelist hit.
	// Reserved for callers that want to route policy outcomes through
	// the same switch as genuine errors.
	Policy
	// ExternalDegradation covers an optional subsystem going unavailable
	// (ML model missing, secret protector null, capture unavailable):
	// the subsystem drops to a safe reduced mode and the caller continues.
	ExternalDegradation
	// Fatal covers startup-time failures: fail fast with a diagnostic.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Authentication:
		return "authentication"
	case Protocol:
		return "protocol"
	case Integrity:
		return "integrity"
	case Policy:
		return "policy"
	case ExternalDegradation:
		return "external_degradation"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError pairs an underlying error with its Kind and satisfies the
// standard errors.Unwrap contract.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New wraps err with the given Kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Newf builds a Kind-tagged error from a format string, in the style of
// fmt.Errorf (supports %w).
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Classify extracts the Kind attached by New/Newf anywhere in err's chain,
// defaulting to Unknown when nothing in the chain was classified.
func Classify(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err (or anything it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}
