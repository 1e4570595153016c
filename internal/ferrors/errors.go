// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ferrors is netfilterd's structured error type: every error a
// component returns carries a Kind so callers can tell a fatal
// configuration problem (KindValidation) from a retryable collaborator
// outage (KindUnavailable) without string-matching messages.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error, matching §7's error taxonomy: the
// kinds this daemon actually distinguishes between are a validation
// failure (fatal, exit 2), a transient collaborator outage (retry), and an
// internal programming error (marshal failures and the like).
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is netfilterd's structured error value: a Kind, a message, the
// wrapped cause, and an optional single attribute for context a caller
// wants to log without growing the message string (e.g. the raw,
// malformed JSON blob behind a KindValidation error).
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	AttrKey    string
	AttrValue  any
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap wraps an existing error as an Error of the given kind. Returns nil
// if err is nil, so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf wraps an existing error as an Error of the given kind with a
// formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// Attr attaches a single key/value of debug context to err, wrapping it as
// KindInternal if err is not already an *Error. Used to carry the raw
// malformed configuration blob alongside a KindValidation error so the
// fatal-shutdown log line can include it.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: err.Error(), Underlying: err}
	}
	e.AttrKey = key
	e.AttrValue = val
	return e
}

// GetAttr returns the attribute key Attr attached to err, if any.
func GetAttr(err error) (key string, val any, ok bool) {
	var e *Error
	if errors.As(err, &e) && e.AttrKey != "" {
		return e.AttrKey, e.AttrValue, true
	}
	return "", nil, false
}

// GetKind returns the Kind of err, or KindUnknown if it carries none.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
