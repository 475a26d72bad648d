package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification of a runtime error.
// Kinds are stable identifiers: they appear in AgentOutput.Error, in
// emitted events, and in the run report's error summary.
type ErrorKind string

const (
	// KindGraphInvalid covers load/validate-time failures. Always
	// aggregated: one error carries every issue found in the pass.
	KindGraphInvalid ErrorKind = "GraphInvalid"

	// KindTemplateError covers prompt render failures.
	KindTemplateError ErrorKind = "TemplateError"

	// KindAgentFailed is the generic leaf-agent failure, wrapping the
	// provider error.
	KindAgentFailed ErrorKind = "AgentFailed"

	// KindTimeout indicates a per-attempt or node-budget timeout.
	KindTimeout ErrorKind = "Timeout"

	// KindJoinTimeout indicates a join barrier that never completed.
	KindJoinTimeout ErrorKind = "JoinTimeout"

	// KindRouteUnknown indicates a router decision value with no entry in
	// the routing map and no default.
	KindRouteUnknown ErrorKind = "RouteUnknown"

	// KindNoViablePath indicates graph-scout found no candidate passing
	// the safety or budget gates.
	KindNoViablePath ErrorKind = "NoViablePath"

	// KindStoreUnavailable indicates the memory backend is unreachable.
	KindStoreUnavailable ErrorKind = "StoreUnavailable"

	// KindStoreDegraded indicates a memory write was queued for retry
	// after a transient backend failure.
	KindStoreDegraded ErrorKind = "StoreDegraded"

	// KindStoreWriteFailed indicates a memory write exhausted its retry
	// budget.
	KindStoreWriteFailed ErrorKind = "StoreWriteFailed"

	// KindCancelled indicates cooperative cancellation.
	KindCancelled ErrorKind = "Cancelled"

	// KindConfigInvalid indicates a startup configuration problem, such
	// as a missing required environment variable.
	KindConfigInvalid ErrorKind = "ConfigInvalid"
)

// Error is the structured runtime error. It pairs a taxonomy Kind with a
// human-readable message and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap returns the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches two Errors by Kind, so errors.Is(err, &Error{Kind: k}) and
// sentinel comparisons both work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Errorf builds a new Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a new Error around a cause.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain. Context
// cancellation maps to KindCancelled, deadline expiry to KindTimeout, and
// anything unclassified to KindAgentFailed.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindAgentFailed
	}
}

// Sentinel errors for the common control-flow conditions. Prefer these
// with errors.Is; use Errorf/Wrap when a message or cause is needed.
var (
	ErrTimeout          = errors.New("deadline exceeded")
	ErrCancelled        = errors.New("run cancelled")
	ErrUnknownAgentType = errors.New("unknown agent type")
	ErrDuplicateNodeID  = errors.New("duplicate node id")
	ErrNodeNotFound     = errors.New("node not found")
)

// GraphInvalidError aggregates every validation issue found in a single
// pass over a workflow graph. The loader fails fast but reports all
// reasons at once.
type GraphInvalidError struct {
	Reasons []string
}

// Error implements the error interface.
func (e *GraphInvalidError) Error() string {
	if len(e.Reasons) == 1 {
		return "invalid graph: " + e.Reasons[0]
	}
	return fmt.Sprintf("invalid graph: %d issues, first: %s", len(e.Reasons), e.Reasons[0])
}

// Is reports a match against any GraphInvalid-kinded Error target.
func (e *GraphInvalidError) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == KindGraphInvalid
	}
	return false
}
