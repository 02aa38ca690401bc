// Package metrics provides Prometheus instrumentation for chainscout.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscout",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainscout",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// QueriesTotal counts served queries by intent kind and serving route.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscout",
			Name:      "queries_total",
			Help:      "Total queries served by intent kind and route (tool or fallback).",
		},
		[]string{"kind", "route"},
	)

	// ToolCallsTotal counts subprocess tool calls by tool name and result.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscout",
			Name:      "tool_calls_total",
			Help:      "Total MCP tool calls by tool name and result.",
		},
		[]string{"tool", "result"},
	)

	// ToolCallDuration observes subprocess tool call latency.
	ToolCallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chainscout",
		Name:      "tool_call_duration_seconds",
		Help:      "MCP tool call duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	// ToolRestartsTotal counts automatic tool subprocess restarts.
	ToolRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chainscout",
		Name:      "tool_restarts_total",
		Help:      "Total automatic tool subprocess restarts.",
	})

	// DataAPIErrorsTotal counts upstream data API failures by chain.
	DataAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscout",
			Name:      "data_api_errors_total",
			Help:      "Total upstream data API failures by chain.",
		},
		[]string{"chain"},
	)

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscout", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QueriesTotal,
		ToolCallsTotal,
		ToolCallDuration,
		ToolRestartsTotal,
		DataAPIErrorsTotal,
		GoroutineCount,
	)
}

// StartRuntimeCollector periodically samples the runtime goroutine count.
// Call in a goroutine; exits when ctx is done.
func StartRuntimeCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
