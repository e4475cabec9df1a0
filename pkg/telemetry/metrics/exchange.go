package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/llmtap/pkg/config"
)

// ExchangeMetrics tracks forwarded request/response exchanges.
type ExchangeMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewExchangeMetrics creates and registers exchange metrics.
func NewExchangeMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ExchangeMetrics {
	m := &ExchangeMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "exchanges_total",
				Help:      "Total number of forwarded exchanges",
			},
			[]string{"method", "mode", "outcome", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Time from request arrival to the end of the relayed response",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"mode", "outcome"},
		),
	}
	registry.MustRegister(m.total, m.duration)
	return m
}

// StreamMetrics tracks body relay and framing.
type StreamMetrics struct {
	chunks     prometheus.Counter
	bytes      prometheus.Counter
	frames     *prometheus.CounterVec
	violations *prometheus.CounterVec
	overflows  *prometheus.CounterVec
	discarded  *prometheus.CounterVec
}

// NewStreamMetrics creates and registers stream metrics.
func NewStreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StreamMetrics {
	m := &StreamMetrics{
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_chunks_total",
			Help:      "Body parts relayed to clients",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_bytes_total",
			Help:      "Body bytes relayed to clients",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_total",
			Help:      "Frames decoded from response bodies",
		}, []string{"mode"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "protocol_violations_total",
			Help:      "Frames that did not match the declared content type",
		}, []string{"mode", "reason"}),
		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "decoder_overflows_total",
			Help:      "Decoder buffers discarded for lacking a frame boundary",
		}, []string{"mode"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "decoder_discarded_bytes_total",
			Help:      "Bytes dropped by decoder overflows",
		}, []string{"mode"}),
	}
	registry.MustRegister(m.chunks, m.bytes, m.frames, m.violations, m.overflows, m.discarded)
	return m
}
