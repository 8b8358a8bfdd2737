package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes recorded by the runs_total metric.
const (
	outcomeCompleted   = "completed"
	outcomeStopped     = "stopped"
	outcomeCLINotFound = "cli_not_found"
	outcomeFailed      = "failed"
)

// metrics holds the bridge's collectors. Each Server registers its own set
// so servers in one process do not collide.
type metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	runs        *prometheus.CounterVec
	frames      *prometheus.CounterVec
	runDuration prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prettycode_bridge_connections",
			Help: "Open chat websocket connections",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prettycode_bridge_runs_total",
			Help: "Agent CLI runs by outcome",
		}, []string{"outcome"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prettycode_bridge_frames_total",
			Help: "Frames relayed to clients by frame type",
		}, []string{"type"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prettycode_bridge_run_duration_seconds",
			Help:    "Agent CLI run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		}),
	}
}

func runOutcome(err error) string {
	var notFound *CLINotFoundError
	switch {
	case err == nil:
		return outcomeCompleted
	case errors.Is(err, context.Canceled):
		return outcomeStopped
	case errors.As(err, &notFound):
		return outcomeCLINotFound
	default:
		return outcomeFailed
	}
}

// frameType returns the frame's type field, or "unknown".
func frameType(frame json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(frame, &head) != nil || head.Type == "" {
		return "unknown"
	}
	return head.Type
}
