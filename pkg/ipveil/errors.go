package ipveil

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is reported when no healthy upstream exists in the pool.
var ErrPoolExhausted = errors.New("proxy pool exhausted")

// ValidationKind classifies why a candidate failed its probe.
type ValidationKind string

const (
	ValidationTimeout           ValidationKind = "timeout"
	ValidationConnectionRefused ValidationKind = "connection-refused"
	ValidationProtocolMismatch  ValidationKind = "protocol-mismatch"
)

// ValidationError is returned for a candidate that failed validation. All
// kinds are equivalent to the caller (the candidate is dropped); the kind is
// kept for logging only.
type ValidationError struct {
	Address string
	Kind    ValidationKind
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s: %s", e.Address, e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SourceUnavailableError means every configured origin failed or produced
// zero candidates this cycle. Non-fatal: the refresh cycle is skipped.
type SourceUnavailableError struct {
	Tried int
	Err   error
}

func (e *SourceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no candidates from %d source(s)", e.Tried)
	}

	return fmt.Sprintf("no candidates from %d source(s): %s", e.Tried, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// UpstreamError wraps a failure on the upstream leg of a session.
type UpstreamError struct {
	Address string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Address, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
