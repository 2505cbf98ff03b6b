package hog

import (
	"errors"
	"fmt"
)

// ErrorKind classifies script failures.
type ErrorKind string

const (
	SyntaxError            ErrorKind = "SyntaxError"
	UndefinedVariable      ErrorKind = "UndefinedVariable"
	TypeMismatch           ErrorKind = "TypeMismatch"
	FetchDenied            ErrorKind = "FetchDenied"
	ExecutionTimeout       ErrorKind = "ExecutionTimeout"
	ExecutionLimitExceeded ErrorKind = "ExecutionLimitExceeded"
	RuntimeError           ErrorKind = "RuntimeError"
	Cancelled              ErrorKind = "Cancelled"
)

var (
	ErrSyntax            = &Error{Kind: SyntaxError}
	ErrUndefinedVariable = &Error{Kind: UndefinedVariable}
	ErrTypeMismatch      = &Error{Kind: TypeMismatch}
	ErrFetchDenied       = &Error{Kind: FetchDenied}
	ErrTimeout           = &Error{Kind: ExecutionTimeout}
	ErrLimitExceeded     = &Error{Kind: ExecutionLimitExceeded}
	ErrRuntime           = &Error{Kind: RuntimeError}
	ErrCancelled         = &Error{Kind: Cancelled}
)

// Error is returned by Compile and Execute. Messages never contain runtime values.
type Error struct {
	Kind    ErrorKind
	Message string
	Pos     Pos
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Pos.IsValid() {
		msg += fmt.Sprintf(" (line %d, column %d)", e.Pos.Line, e.Pos.Column)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, hog.ErrTimeout) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a hog error, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return ""
}

func newError(kind ErrorKind, pos Pos, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Pos: pos}
}

func syntaxErrorf(pos Pos, format string, args ...interface{}) *Error {
	return newError(SyntaxError, pos, format, args...)
}

func typeErrorf(pos Pos, format string, args ...interface{}) *Error {
	return newError(TypeMismatch, pos, format, args...)
}

func runtimeErrorf(pos Pos, format string, args ...interface{}) *Error {
	return newError(RuntimeError, pos, format, args...)
}

// DeniedError builds the error a Fetcher returns when policy refuses a request.
func DeniedError(format string, args ...interface{}) *Error {
	return &Error{Kind: FetchDenied, Message: fmt.Sprintf(format, args...)}
}
