package errors

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedErrorsKeepSentinelsIntact(t *testing.T) {
	err := ErrNotFound.WithMessage("function '%s' not found", "fn-1").WithDetail("id", "fn-1")

	assert.Equal(t, "NOT_FOUND: function 'fn-1' not found", err.Error())
	assert.Empty(t, ErrNotFound.Reason)
	assert.Empty(t, ErrNotFound.Details)
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestWrapKeepsCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrInternal))

	err := Wrap(sql.ErrNoRows, ErrNotFound)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(err))
}

func TestToErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   ErrorResponse
	}{
		{
			name:   "plain error hides cause",
			err:    errors.New("connection reset"),
			status: http.StatusInternalServerError,
			want:   ErrorResponse{Error: "internal server error", ErrorCode: "INTERNAL_ERROR"},
		},
		{
			name:   "validation cause is shown",
			err:    ErrValidation.WithCause(errors.New("name is required")),
			status: http.StatusBadRequest,
			want:   ErrorResponse{Error: "validation failed", ErrorCode: "VALIDATION_ERROR", Message: "name is required"},
		},
		{
			name:   "reason wins over cause",
			err:    ErrConflict.WithCause(errors.New("pq: duplicate key")).WithMessage("hog function with name 'x' already exists"),
			status: http.StatusConflict,
			want:   ErrorResponse{Error: "resource conflict", ErrorCode: "CONFLICT", Message: "hog function with name 'x' already exists"},
		},
		{
			name:   "details",
			err:    ErrNotFound.WithDetail("id", "fn-1"),
			status: http.StatusNotFound,
			want: ErrorResponse{
				Error:     "resource not found",
				ErrorCode: "NOT_FOUND",
				Details:   map[string]interface{}{"id": "fn-1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, ToHTTPStatus(tt.err))
			assert.Equal(t, tt.want, ToErrorResponse(tt.err))
		})
	}
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("boom")
	require.Error(t, err)
	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, true, appErr.Details["panic"])
	assert.Contains(t, appErr.Details["stack_trace"], "runtime/debug.Stack")
	assert.EqualError(t, appErr.Cause, "panic: boom")

	cause := errors.New("nil map")
	assert.True(t, errors.Is(RecoverPanic(cause), cause))
}
