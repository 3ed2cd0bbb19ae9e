package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(upstreamLatencyMs) }

var upstreamLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "wordai_upstream_latency_ms",
		Help:    "Upstream call latency distribution in milliseconds.",
		Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
	},
	[]string{"upstream", "success"},
)

// ObserveUpstream records one call to an external service (ai, tts, render, content, r2).
func ObserveUpstream(upstream string, took time.Duration, success bool) {
	upstreamLatencyMs.WithLabelValues(norm(upstream), strconv.FormatBool(success)).
		Observe(float64(took.Milliseconds()))
}
