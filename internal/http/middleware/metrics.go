// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus HTTP instrumentation. Series are labelled
// by method, registered route (e.g. /api/v1/conversations/:id/messages) and
// status; requests matching no route share the "unmatched" label so
// scanners cannot grow the series count.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsPath is the scrape endpoint. It is never instrumented.
const MetricsPath = "/metrics"

const unmatchedPath = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	// JSON listings and CSV exports; the top bucket covers a full
	// phonebook export.
	httpRespSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response body size by method and route.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 9),
	}, []string{"method", "path"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected with 429 by the rate limiter.",
	}, []string{"path"})

	streamsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_streams_opened_total",
		Help: "Long-lived requests (WebSocket upgrades) by route and status.",
	}, []string{"path", "status"})
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, rateLimited, streamsOpened)
}

// Metrics instruments every request except scrapes of MetricsPath.
//
// Routes listed in streams hold their connection open (the realtime
// WebSocket); timing them would swamp the latency histogram, so they are
// only counted in http_streams_opened_total.
//
//	r.Use(middleware.Metrics("/ws"))
//	r.GET(middleware.MetricsPath, gin.WrapH(promhttp.Handler()))
func Metrics(streams ...string) gin.HandlerFunc {
	isStream := make(map[string]bool, len(streams))
	for _, s := range streams {
		isStream[s] = true
	}
	return func(c *gin.Context) {
		if c.Request.URL.Path == MetricsPath {
			c.Next()
			return
		}
		if isStream[c.Request.URL.Path] {
			c.Next()
			streamsOpened.WithLabelValues(routeLabel(c), strconv.Itoa(c.Writer.Status())).Inc()
			return
		}

		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		method, path := c.Request.Method, routeLabel(c)
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedPath
}
