// Package errs defines the closed taxonomy of error kinds used across the
// module (spec.md §7). Callers branch on Kind, not on concrete error types,
// via Is.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a member of the closed error taxonomy. The zero value is never a
// valid Kind produced by this package.
type Kind int

const (
	_ Kind = iota

	// NetworkResolve means a hostname did not resolve.
	NetworkResolve
	// NetworkRefused means the TCP connection was actively refused.
	NetworkRefused
	// NetworkTimeout means a connect or read exceeded its bound.
	NetworkTimeout
	// NetworkIo covers generic socket failures: peer reset, broken pipe.
	NetworkIo

	// AuthRejected means the handshake reply indicated failure, including
	// the 0x7E 0xE3 nack.
	AuthRejected
	// AuthMalformed means the handshake reply had the wrong length, wrong
	// command id, or could not be decrypted to a recognized shape.
	AuthMalformed

	// ProtocolBadChecksum means a framed message's checksum failed.
	ProtocolBadChecksum
	// ProtocolGarbage means stream bytes did not begin with either known
	// marker.
	ProtocolGarbage
	// ProtocolTruncated means a partial buffer is waiting for more bytes.
	ProtocolTruncated

	// StateNoBaseline means a write was requested before any snapshot was
	// available.
	StateNoBaseline

	// OutOfRange means a module/output/value argument was outside its
	// allowed bounds. Always a caller error.
	OutOfRange

	// SafetyForbiddenCoverState means a cover action would have produced
	// up=1, down=1; it was replaced by stop.
	SafetyForbiddenCoverState

	// SupervisorHealthTimeout means no inbound bytes arrived for the
	// configured health window.
	SupervisorHealthTimeout
)

var kindNames = map[Kind]string{
	NetworkResolve:            "Network.Resolve",
	NetworkRefused:            "Network.Refused",
	NetworkTimeout:            "Network.Timeout",
	NetworkIo:                 "Network.Io",
	AuthRejected:              "Auth.Rejected",
	AuthMalformed:             "Auth.Malformed",
	ProtocolBadChecksum:       "Protocol.BadChecksum",
	ProtocolGarbage:           "Protocol.Garbage",
	ProtocolTruncated:         "Protocol.Truncated",
	StateNoBaseline:           "State.NoBaseline",
	OutOfRange:                "OutOfRange",
	SafetyForbiddenCoverState: "Safety.ForbiddenCoverState",
	SupervisorHealthTimeout:   "Supervisor.HealthTimeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Error wraps a Kind with an optional human-readable reason and an optional
// wrapped cause, preserving Cause() for the pkg/errors Cause/Wrap chain.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Cause returns the wrapped cause, if any, so github.com/pkg/errors.Cause
// unwraps through an *Error to the underlying error.
func (e *Error) Cause() error { return e.cause }

// Unwrap supports errors.Is/As from the standard library as well.
func (e *Error) Unwrap() error { return e.cause }

// New constructs a bare *Error of the given kind with a formatted reason.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind k to cause, preserving cause in the Cause() chain via
// github.com/pkg/errors.Wrap so stack traces captured upstream survive.
func Wrap(cause error, k Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   k,
		Reason: fmt.Sprintf(format, args...),
		cause:  errors.Wrap(cause, k.String()),
	}
}

// Is reports whether err is, or wraps, an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
