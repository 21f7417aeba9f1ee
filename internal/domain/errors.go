package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures crossing component boundaries.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindUpstream    ErrorKind = "upstream"
	KindPersistence ErrorKind = "persistence"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrUpstream    = &Error{Kind: KindUpstream}
	ErrPersistence = &Error{Kind: KindPersistence}
)

// Error is the typed error returned by the ingestion pipeline.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation reports a malformed upstream payload or bad caller input.
func Validation(op, msg string, details ...string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg, Details: details}
}

// NotFound reports an unknown machine or ticket.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Upstream reports a transport or HTTP failure of an external service.
func Upstream(op, msg string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Message: msg, Err: err}
}

// Persistence reports a storage engine failure.
func Persistence(op, msg string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" when none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
