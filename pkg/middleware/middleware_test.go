package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/logger"
	apperrors "hogflow/pkg/errors"
	"hogflow/pkg/logging"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := logger.NopLogger()
	r.Use(RecoveryMiddleware(log), RequestIDMiddleware(), LoggerMiddleware(log))
	return r
}

func TestRequestIDMiddleware(t *testing.T) {
	r := newRouter()
	var fromContext string
	r.GET("/ping", func(c *gin.Context) {
		fromContext = logging.GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	t.Run("keeps caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-1", fromContext)
	})

	t.Run("assigns id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		id := w.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, fromContext)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	r := newRouter()
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.ErrorCode)
	// Stack traces stay in the logs.
	assert.NotContains(t, w.Body.String(), "stack_trace")
}
