// Package caserr defines the error taxonomy shared by every CAS parser and by
// the fetch orchestrator: format errors, integrity (checksum) errors,
// transport errors, resolution misses, and decompression errors.
package caserr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the resolution/fetch pipeline needs to
// react to it: transport errors are retried across hosts, resolution misses
// are demoted to skips by the closure walker, everything else aborts the
// current artifact.
type Kind int

const (
	// KindFormat marks a parser's structural or sentinel check failing.
	KindFormat Kind = iota
	// KindIntegrity marks a checksum mismatch.
	KindIntegrity
	// KindTransport marks an HTTP status, socket, or timeout failure.
	KindTransport
	// KindResolutionMiss marks a key or name absent from a map.
	KindResolutionMiss
	// KindDecompression marks an inflate failure.
	KindDecompression
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindIntegrity:
		return "integrity"
	case KindTransport:
		return "transport"
	case KindResolutionMiss:
		return "resolution-miss"
	case KindDecompression:
		return "decompression"
	default:
		return "unknown"
	}
}

// Error is the shared error type: every failure surfaced by this module
// carries the pipeline stage it occurred in and the Kind that governs how
// callers should react.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, caserr.Sentinel(caserr.KindTransport)) style
// matching against a bare Kind value wrapped in a sentinel error.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (s *kindSentinel) Error() string { return s.kind.String() }

// Sentinel returns a comparison target usable with errors.Is to test whether
// an error carries the given Kind, e.g. errors.Is(err, caserr.Sentinel(caserr.KindTransport)).
func Sentinel(k Kind) error { return &kindSentinel{kind: k} }

// Format builds a format-kind error for the given stage.
func Format(stage string, err error) error {
	return &Error{Kind: KindFormat, Stage: stage, Err: err}
}

// Formatf builds a format-kind error for the given stage with a formatted message.
func Formatf(stage, format string, args ...any) error {
	return &Error{Kind: KindFormat, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Integrity builds an integrity-kind error for the given stage.
func Integrity(stage string, err error) error {
	return &Error{Kind: KindIntegrity, Stage: stage, Err: err}
}

// Integrityf builds an integrity-kind error for the given stage with a formatted message.
func Integrityf(stage, format string, args ...any) error {
	return &Error{Kind: KindIntegrity, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Transport builds a transport-kind error for the given stage.
func Transport(stage string, err error) error {
	return &Error{Kind: KindTransport, Stage: stage, Err: err}
}

// Miss builds a resolution-miss error for the given stage.
func Miss(stage string, err error) error {
	return &Error{Kind: KindResolutionMiss, Stage: stage, Err: err}
}

// Missf builds a resolution-miss error for the given stage with a formatted message.
func Missf(stage, format string, args ...any) error {
	return &Error{Kind: KindResolutionMiss, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Decompression builds a decompression-kind error for the given stage.
func Decompression(stage string, err error) error {
	return &Error{Kind: KindDecompression, Stage: stage, Err: err}
}

// KindOf reports the Kind of err if it (or something it wraps) is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
