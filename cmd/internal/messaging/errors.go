package messaging

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument covers missing or malformed fields, self-send and bad status values.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrForbidden is returned when the caller is not a participant of the conversation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a conversation or message is absent where required.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by the ledger when a conversation key already exists.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks storage or backing-service failures that are safe to retry.
	ErrTransient = errors.New("transient error")

	// ErrUnauthorized is returned by the identity layer before any messaging logic runs.
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a typed domain failure with a stable reason code.
//
// Kind is always one of the sentinel kinds above, so callers can use errors.Is.
// Code is the machine-readable reason surfaced to clients ("self_message", "not_participant", ...).
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Reason returns the stable reason code carried by err, or "" when err is not a domain error.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func invalid(code, msg string) error {
	return &Error{Kind: ErrInvalidArgument, Code: code, Message: msg}
}

func forbidden() error {
	return &Error{Kind: ErrForbidden, Code: "not_participant", Message: "caller is not a participant of this conversation"}
}

func notFound(code, msg string) error {
	return &Error{Kind: ErrNotFound, Code: code, Message: msg}
}

// transient wraps a storage failure. Domain errors and context errors pass through untouched.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: ErrTransient, Code: "storage_unavailable", Message: op, Err: err}
}
