package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests     *prometheus.CounterVec
	agentRuns    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	toolChunks   prometheus.Counter
	streamErrors prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strand_http_requests_total",
			Help: "HTTP requests by handler.",
		}, []string{"handler"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strand_agent_runs_total",
			Help: "Completed agent runs by termination reason.",
		}, []string{"reason"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strand_agent_run_duration_seconds",
			Help:    "Wall time of agent runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		toolChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strand_tool_result_chunks_total",
			Help: "Tool result chunks streamed to clients.",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strand_stream_errors_total",
			Help: "Streaming runs that ended with an error event.",
		}),
	}
	// Duplicate registration only happens when tests build several
	// servers in one process; the first registration wins.
	for _, c := range []prometheus.Collector{m.requests, m.agentRuns, m.runDuration, m.toolChunks, m.streamErrors} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	return m
}
