package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/llmtap/pkg/config"
)

// Collector owns every llmtap metric and the registry they live in. It
// satisfies proxy.Metrics, storage.Metrics and the server's replay
// metrics. A Collector built from a disabled config records nothing.
//
// Metrics:
//   - llmtap_exchanges_total{method,mode,outcome,status}
//   - llmtap_exchange_duration_seconds{mode,outcome}
//   - llmtap_stream_chunks_total, llmtap_stream_bytes_total
//   - llmtap_frames_total{mode}
//   - llmtap_protocol_violations_total{mode,reason}
//   - llmtap_decoder_overflows_total{mode}, llmtap_decoder_discarded_bytes_total{mode}
//   - llmtap_captures_persisted_total{kind}, llmtap_persistence_failures_total{op}
//   - llmtap_captures_dropped_total, llmtap_persist_queue_depth
//   - llmtap_captures_pruned_total
//   - llmtap_replays_total{outcome}, llmtap_replay_duration_seconds
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	exchange *ExchangeMetrics
	stream   *StreamMetrics
	storage  *StorageMetrics
	replay   *ReplayMetrics
}

// NewCollector creates a collector and registers its metrics. If
// registry is nil a fresh one is created, so tests and multiple servers
// in one process never collide on the global registry.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = append([]float64(nil), config.DefaultRequestDurationBuckets...)
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
		exchange: NewExchangeMetrics(cfg, registry),
		stream:   NewStreamMetrics(cfg, registry),
		storage:  NewStorageMetrics(cfg, registry),
		replay:   NewReplayMetrics(cfg, registry),
	}
	if cfg.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format. Scrapes
// are themselves counted in promhttp_metric_handler_requests_total.
func (c *Collector) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(c.registry, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
}

// RecordRequest records one finished exchange.
func (c *Collector) RecordRequest(method, mode, outcome string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.exchange.total.WithLabelValues(method, mode, outcome, code).Inc()
	c.exchange.duration.WithLabelValues(mode, outcome).Observe(duration.Seconds())
}

// RecordChunk records one relayed body part.
func (c *Collector) RecordChunk(bytes int) {
	if !c.config.Enabled {
		return
	}
	c.stream.chunks.Inc()
	c.stream.bytes.Add(float64(bytes))
}

// RecordFrame records one decoded frame.
func (c *Collector) RecordFrame(mode string) {
	if !c.config.Enabled {
		return
	}
	c.stream.frames.WithLabelValues(mode).Inc()
}

// RecordProtocolViolation records a frame the inspector could not accept
// or an event block the decoder discarded.
func (c *Collector) RecordProtocolViolation(mode, reason string) {
	if !c.config.Enabled {
		return
	}
	c.stream.violations.WithLabelValues(mode, reason).Inc()
}

// RecordDecoderOverflow records one discarded decoder buffer.
func (c *Collector) RecordDecoderOverflow(mode string, bytes int) {
	if !c.config.Enabled {
		return
	}
	c.stream.overflows.WithLabelValues(mode).Inc()
	c.stream.discarded.WithLabelValues(mode).Add(float64(bytes))
}

// RecordPersisted records one written artifact: "capture", "dump" or
// "index".
func (c *Collector) RecordPersisted(kind string) {
	if !c.config.Enabled {
		return
	}
	c.storage.persisted.WithLabelValues(kind).Inc()
}

// RecordPersistenceFailure records a failed storage operation.
func (c *Collector) RecordPersistenceFailure(op string) {
	if !c.config.Enabled {
		return
	}
	c.storage.failures.WithLabelValues(op).Inc()
}

// RecordDropped records a capture rejected by a full persist queue.
func (c *Collector) RecordDropped() {
	if !c.config.Enabled {
		return
	}
	c.storage.dropped.Inc()
}

// SetQueueDepth reports the number of captures waiting to be written.
func (c *Collector) SetQueueDepth(n int) {
	if !c.config.Enabled {
		return
	}
	c.storage.queueDepth.Set(float64(n))
}

// RecordPruned records captures removed by retention.
func (c *Collector) RecordPruned(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.storage.pruned.Add(float64(n))
}

// RecordReplay records one served replay.
func (c *Collector) RecordReplay(outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.replay.total.WithLabelValues(outcome).Inc()
	c.replay.duration.Observe(duration.Seconds())
}
