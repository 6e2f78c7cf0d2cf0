// Package atomixerrors defines the typed error taxonomy clients and
// replicas use to decide how to recover from a failed operation (spec
// §7). Every error a client can see is one of these kinds; nothing is
// silently swallowed.
package atomixerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an Atomix error.
type Kind int

const (
	// KindUnknown is never returned; it exists so the zero value is
	// visibly wrong if a Kind is forgotten somewhere.
	KindUnknown Kind = iota
	// KindNoLeader means the partition currently has no known leader.
	// Recovery: retry against a different replica after a backoff.
	KindNoLeader
	// KindNotLeader means the contacted replica is not the leader.
	// Recovery: retry against Hint if set, otherwise rotate replicas.
	KindNotLeader
	// KindTimeout means the operation did not complete within its
	// deadline. Recovery: retry with the same sequence number (commands
	// are deduplicated, so a retry is always safe).
	KindTimeout
	// KindUnavailable means the replica or partition cannot currently
	// serve requests (e.g. it is Inactive or compacting).
	// Recovery: retry after a capped exponential backoff.
	KindUnavailable
	// KindClosedSession means the session was closed (explicitly or by
	// expiration) and commands against it can never succeed again.
	// Recovery: open a new session.
	KindClosedSession
	// KindUnknownSession means the server has no record of the session
	// ID presented, most likely because it expired and was removed.
	// Recovery: open a new session.
	KindUnknownSession
	// KindIllegalState means the operation is not valid for the
	// primitive's current state (a primitive-defined business rule, not
	// a protocol failure). Recovery: none — the caller's request was
	// wrong.
	KindIllegalState
	// KindProtocolMismatch means the client and server disagree on wire
	// protocol version or codec. Recovery: none without a client upgrade.
	KindProtocolMismatch
	// KindCommandFailed means the primitive's Apply returned an
	// application-level error. Recovery: depends on the primitive;
	// generally not safe to blindly retry since the command may have
	// already taken effect.
	KindCommandFailed
	// KindReadStale means a Sequential/LinearizableLease read could not
	// meet its consistency bound (e.g. the lease expired mid-read).
	// Recovery: retry, possibly against a different consistency level.
	KindReadStale
	// KindConfigurationError means a membership change was rejected
	// (e.g. concurrent change in flight, or removing the last voter).
	KindConfigurationError
)

func (k Kind) String() string {
	switch k {
	case KindNoLeader:
		return "NoLeader"
	case KindNotLeader:
		return "NotLeader"
	case KindTimeout:
		return "Timeout"
	case KindUnavailable:
		return "Unavailable"
	case KindClosedSession:
		return "ClosedSession"
	case KindUnknownSession:
		return "UnknownSession"
	case KindIllegalState:
		return "IllegalState"
	case KindProtocolMismatch:
		return "ProtocolMismatch"
	case KindCommandFailed:
		return "CommandFailed"
	case KindReadStale:
		return "ReadStale"
	case KindConfigurationError:
		return "ConfigurationError"
	default:
		return "Unknown"
	}
}

// Error is a typed Atomix error carrying a Kind plus optional detail.
type Error struct {
	Kind    Kind
	Message string
	// Hint is the leader address a NotLeader error believes is current,
	// when known. Empty if unknown.
	Hint string
	err  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.err }

// Is supports errors.Is against a bare Kind-constructed sentinel, so
// callers can write errors.Is(err, atomixerrors.New(KindTimeout, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

// NotLeader creates a KindNotLeader error carrying a hint to the
// believed-current leader, if known.
func NotLeader(hint string) *Error {
	return &Error{Kind: KindNotLeader, Message: "not the partition leader", Hint: hint}
}

// KindOf extracts the Kind from err, or KindUnknown if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the recovery policy for kind is "retry the
// same request", as opposed to "give up" or "retry with different
// input" (spec §7).
func Retryable(kind Kind) bool {
	switch kind {
	case KindNoLeader, KindNotLeader, KindTimeout, KindUnavailable, KindReadStale:
		return true
	default:
		return false
	}
}
