package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts HTTP requests by method, route, and status.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdlcd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// requestDuration tracks request latency by method and route.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdlcd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds by method and route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// activeStreams gauges the number of open SSE connections.
	activeStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sdlcd",
			Subsystem: "http",
			Name:      "active_event_streams",
			Help:      "Number of currently open SSE event streams",
		},
	)
)

// metricsMiddleware records request counts and latency. Routes are recorded
// by their registered pattern (":id" stays a placeholder), so parameterized
// paths never explode metric cardinality.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		route := c.Path()
		if route == "" {
			route = "/"
		}
		method := c.Request().Method
		status := strconv.Itoa(c.Response().Status)

		requestsTotal.WithLabelValues(method, route, status).Inc()
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

		return err
	}
}
