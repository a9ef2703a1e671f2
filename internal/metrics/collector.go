package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bassnotion/assetcache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// Collector exports cache events as Prometheus metrics. It implements
// types.MetricsCollector; every record method is cheap and non-blocking so
// it can be called while the cache holds its lock.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	requestCounter  *prometheus.CounterVec
	hitSize         *prometheus.HistogramVec
	evictionCounter *prometheus.CounterVec
	evictedBytes    *prometheus.CounterVec
	prefetchCounter *prometheus.CounterVec
	prefetchBytes   prometheus.Counter
	usageBytes      *prometheus.GaugeVec
	usageEntries    *prometheus.GaugeVec

	startedAt time.Time
	server    *http.Server
}

// NewCollector creates a metrics collector. A nil config gets defaults;
// a disabled config yields a collector whose record methods are no-ops.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "assetcache",
			Labels:    make(map[string]string),
		}
	}

	collector := &Collector{
		config:    config,
		startedAt: time.Now(),
	}

	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) initMetrics() {
	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "requests_total",
			Help:      "Total cache requests by strategy partition and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	c.hitSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "hit_size_bytes",
			Help:      "Payload size of cache hits in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 16), // 1KB to ~64MB
		},
		[]string{"strategy"},
	)

	c.evictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "evictions_total",
			Help:      "Total evictions by strategy partition and reason",
		},
		[]string{"strategy", "reason"},
	)

	c.evictedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "evicted_bytes_total",
			Help:      "Total bytes reclaimed by eviction",
		},
		[]string{"strategy"},
	)

	c.prefetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "prefetch_requests_total",
			Help:      "Total prefetch requests by outcome",
		},
		[]string{"outcome"},
	)

	c.prefetchBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "prefetch_bytes_total",
			Help:      "Total bytes loaded by prefetch",
		},
	)

	c.usageBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "partition_size_bytes",
			Help:      "Current bytes held per strategy partition",
		},
		[]string{"strategy"},
	)

	c.usageEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "partition_entries",
			Help:      "Current entry count per strategy partition",
		},
		[]string{"strategy"},
	)
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.requestCounter,
		c.hitSize,
		c.evictionCounter,
		c.evictedBytes,
		c.prefetchCounter,
		c.prefetchBytes,
		c.usageBytes,
		c.usageEntries,
	}

	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// Start serves the metrics endpoint until Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	path := c.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)

	c.mu.Lock()
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the metrics endpoint.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","uptime":"%s"}`, time.Since(c.startedAt).Round(time.Second))
}

// RecordHit implements types.MetricsCollector.
func (c *Collector) RecordHit(strategy types.EvictionStrategy, size int64) {
	if !c.config.Enabled {
		return
	}

	c.requestCounter.With(prometheus.Labels{
		"strategy": string(strategy),
		"outcome":  "hit",
	}).Inc()
	if size > 0 {
		c.hitSize.With(prometheus.Labels{"strategy": string(strategy)}).Observe(float64(size))
	}
}

// RecordMiss implements types.MetricsCollector.
func (c *Collector) RecordMiss(strategy types.EvictionStrategy) {
	if !c.config.Enabled {
		return
	}

	c.requestCounter.With(prometheus.Labels{
		"strategy": string(strategy),
		"outcome":  "miss",
	}).Inc()
}

// RecordEviction implements types.MetricsCollector.
func (c *Collector) RecordEviction(strategy types.EvictionStrategy, reason types.EvictionReason, size int64) {
	if !c.config.Enabled {
		return
	}

	c.evictionCounter.With(prometheus.Labels{
		"strategy": string(strategy),
		"reason":   string(reason),
	}).Inc()
	c.evictedBytes.With(prometheus.Labels{"strategy": string(strategy)}).Add(float64(size))
}

// RecordPrefetch implements types.MetricsCollector. Outcome is one of
// "successful", "failed" or "skipped".
func (c *Collector) RecordPrefetch(outcome string, size int64) {
	if !c.config.Enabled {
		return
	}

	c.prefetchCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
	if size > 0 {
		c.prefetchBytes.Add(float64(size))
	}
}

// UpdateUsage implements types.MetricsCollector.
func (c *Collector) UpdateUsage(strategy types.EvictionStrategy, bytes int64, entries int) {
	if !c.config.Enabled {
		return
	}

	c.usageBytes.With(prometheus.Labels{"strategy": string(strategy)}).Set(float64(bytes))
	c.usageEntries.With(prometheus.Labels{"strategy": string(strategy)}).Set(float64(entries))
}

// Registry exposes the underlying registry for embedding in a host process.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
