package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdlcd",
			Subsystem: "mcp",
			Name:      "tool_invocations_total",
			Help:      "Total MCP tool invocations by tool and outcome.",
		},
		[]string{"tool", "status"},
	)

	toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdlcd",
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "MCP tool handler latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

// observeTool records one tool invocation against the handler's start time
// and final error.
func observeTool(tool string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	toolInvocations.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
