// Package metrics exposes llmtap's Prometheus metrics.
//
// A Collector is created once per server with its own registry and is
// handed to the forwarder, the persister and the replay endpoint as their
// metrics sink. Collector.Handler serves the registry.
package metrics
