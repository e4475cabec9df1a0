package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/llmtap/pkg/config"
)

// StorageMetrics tracks capture persistence and retention.
type StorageMetrics struct {
	persisted  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	dropped    prometheus.Counter
	queueDepth prometheus.Gauge
	pruned     prometheus.Counter
}

// NewStorageMetrics creates and registers storage metrics.
func NewStorageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StorageMetrics {
	m := &StorageMetrics{
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "captures_persisted_total",
			Help:      "Artifacts written by the persister",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed storage operations",
		}, []string{"op"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "captures_dropped_total",
			Help:      "Captures dropped because the persist queue was full",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "persist_queue_depth",
			Help:      "Captures waiting to be written",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "captures_pruned_total",
			Help:      "Captures removed by retention",
		}),
	}
	registry.MustRegister(m.persisted, m.failures, m.dropped, m.queueDepth, m.pruned)
	return m
}

// ReplayMetrics tracks served replays.
type ReplayMetrics struct {
	total    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewReplayMetrics creates and registers replay metrics.
func NewReplayMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ReplayMetrics {
	m := &ReplayMetrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "replays_total",
			Help:      "Replays served",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "replay_duration_seconds",
			Help:      "Wall time spent serving a replay",
			Buckets:   cfg.RequestDurationBuckets,
		}),
	}
	registry.MustRegister(m.total, m.duration)
	return m
}
