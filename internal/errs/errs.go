// Package errs defines the error taxonomy shared by conductor components.
//
// Every error carries a Kind so callers can decide how to surface or recover
// from it without string matching:
//
//	Validation  malformed workflow or task input; nothing executes
//	NotFound    missing task, session or specialist; surfaced, never retried
//	Spawn       an agent process failed to start; fails the enclosing step
//	Protocol    a malformed provider event; logged and dropped
//	Storage     a persistence failure; propagated without retry
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindSpawn      Kind = "spawn"
	KindProtocol   Kind = "protocol"
	KindStorage    Kind = "storage"
)

// Sentinels for errors.Is checks against a whole kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrSpawn      = &Error{Kind: KindSpawn}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrStorage    = &Error{Kind: KindStorage}
)

// Error is a classified error. Subject names the thing the error is about
// (a task id, a command, a file path).
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op
	}
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation reports malformed input.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity, e.g. NotFound("task", id).
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: entity + " not found", Subject: id}
}

// Spawn reports a process that could not be launched.
func Spawn(command string, err error) *Error {
	return &Error{Kind: KindSpawn, Op: "spawn agent process", Subject: command, Err: err}
}

// Protocol reports a malformed provider or JSON-RPC message.
func Protocol(format string, err error, args ...any) *Error {
	return &Error{Kind: KindProtocol, Op: "protocol", Message: fmt.Sprintf(format, args...), Err: err}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound is shorthand for Is(err, KindNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
