package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware records request counts and latency per route pattern.
func HTTPMetricsMiddleware(recorder Recorder) gin.HandlerFunc {
	if _, ok := recorder.(*NoopMetrics); ok || recorder == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		recorder.RecordHTTPRequest(c.Request.Method, routePattern(c.FullPath()), c.Writer.Status(), time.Since(start))
	}
}

func routePattern(fullPath string) string {
	if fullPath == "" {
		return "unknown"
	}
	return fullPath
}
