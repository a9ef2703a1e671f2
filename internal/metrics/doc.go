// Package metrics exports cache events as Prometheus metrics and serves
// them over an optional HTTP endpoint. The Collector satisfies
// types.MetricsCollector so the engine stays decoupled from Prometheus.
package metrics
