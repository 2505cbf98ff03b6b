package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are polled by orchestrators and scrapers.
var untracedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// GinMiddleware starts a server span per request, skipping probe endpoints.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return !untracedPaths[r.URL.Path]
	}))
}

// Transport wraps base so that outbound hog fetches carry client spans and
// trace headers.
func Transport(base http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(base, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return "fetch " + r.Method + " " + r.URL.Host
	}))
}
