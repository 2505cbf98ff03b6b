package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels are templates: derive request specific errors with WithMessage,
// WithDetail or WithCause, which copy and never modify them.
var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrUnauthorized       = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrForbidden          = NewError("FORBIDDEN", "forbidden", http.StatusForbidden)
	ErrRateLimited        = NewError("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

type Error struct {
	Code    string
	Message string
	Status  int
	// Reason is the client facing explanation, e.g. "template 'x' is read-only".
	Reason  string
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = e.Reason
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// holds for errors derived from ErrNotFound.
func (e *Error) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == e.Code
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	return &err
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	return err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	err := e.clone()
	if len(args) == 0 {
		err.Reason = format
	} else {
		err.Reason = fmt.Sprintf(format, args...)
	}
	return err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool   { return hasCode(err, ErrNotFound.Code) }
func IsValidation(err error) bool { return hasCode(err, ErrValidation.Code) }
func IsConflict(err error) bool   { return hasCode(err, ErrConflict.Code) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON body of every failed API request.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToErrorResponse renders err for clients. Causes are only exposed for
// validation errors, where they describe what the caller sent wrong.
func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	resp := ErrorResponse{
		Error:     appErr.Message,
		ErrorCode: appErr.Code,
		Message:   appErr.Reason,
	}
	if resp.Message == "" && appErr.Code == ErrValidation.Code && appErr.Cause != nil {
		resp.Message = appErr.Cause.Error()
	}
	if len(appErr.Details) > 0 {
		resp.Details = appErr.Details
	}
	return resp
}
