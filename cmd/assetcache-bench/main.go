// assetcache-bench exercises the caching engine against a synthetic or
// real origin: it replays a skewed access workload, issues periodic
// prefetch batches, runs an optimization cycle, and prints a stats
// summary. With monitoring enabled it also serves Prometheus metrics.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bassnotion/assetcache/internal/cache"
	"github.com/bassnotion/assetcache/internal/capability"
	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/internal/durable"
	"github.com/bassnotion/assetcache/internal/fetch"
	"github.com/bassnotion/assetcache/internal/metrics"
	"github.com/bassnotion/assetcache/pkg/health"
	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration")
		assets     = flag.Int("assets", 500, "number of distinct asset keys")
		ops        = flag.Int("ops", 10000, "number of cache operations to replay")
		meanSize   = flag.Int("mean-size", 32*1024, "mean synthetic payload size in bytes")
		seed       = flag.Int64("seed", 1, "workload random seed")
	)
	flag.Parse()

	if err := run(*configPath, *assets, *ops, *meanSize, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "assetcache-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, assets, ops, meanSize int, seed int64) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Enabled,
		Port:      cfg.Monitoring.Port,
		Path:      "/metrics",
		Namespace: cfg.Monitoring.Namespace,
	})
	if err != nil {
		return err
	}
	if cfg.Monitoring.Enabled {
		if err := collector.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = collector.Stop(context.Background()) }()
	}

	monitor := capability.NewMonitor(capability.MonitorConfig{
		SampleInterval: 5 * time.Second,
		Logger:         logger,
	})
	monitor.Start()
	defer monitor.Stop()

	var store types.DurableStore
	if cfg.Durable.Enabled {
		diskStore, err := durable.NewDiskStore(cfg.Durable, logger)
		if err != nil {
			return err
		}
		defer func() { _ = diskStore.Close() }()
		store = diskStore
	}

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.OnStateChange(func(component string, from, to health.State) {
		logger.Warn("component health changed", map[string]interface{}{
			"component": component,
			"from":      from.String(),
			"to":        to.String(),
		})
	})

	fetcher, err := fetch.FromConfig(ctx, cfg.Fetch, logger)
	if err != nil {
		return err
	}
	if guarded, ok := fetcher.(*fetch.GuardedFetcher); ok {
		guarded.SetHealthTracker(tracker)
	}
	if fetcher == nil {
		logger.Info("no origin configured, using synthetic fetcher", nil)
		fetcher = syntheticFetcher(meanSize)
	}

	engine, err := cache.New(cfg, cache.Dependencies{
		Fetcher:      fetcher,
		Capabilities: monitor,
		Durable:      store,
		Logger:       logger,
		Metrics:      collector,
	})
	if err != nil {
		return err
	}
	defer engine.Dispose()

	logger.Info("replaying workload", map[string]interface{}{
		"assets": assets,
		"ops":    ops,
		"seed":   seed,
	})

	start := time.Now()
	if err := replay(ctx, engine, fetcher, assets, ops, seed); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if _, err := engine.Optimize(types.TriggerScheduled); err != nil {
		logger.Warn("optimization cycle failed", map[string]interface{}{"error": err.Error()})
	}

	return printSummary(engine.Stats(), tracker.Overall(), ops, elapsed)
}

func buildLogger(cfg *config.Configuration) *utils.StructuredLogger {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		level = utils.INFO
	}
	format := utils.FormatText
	if cfg.Global.LogFormat == "json" {
		format = utils.FormatJSON
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stderr,
		Format: format,
	})
}

// replay drives the cache with a Zipf-distributed key stream: a handful
// of hot assets plus a long tail, which is what a sample library looks
// like in practice. Every 500 operations it issues a prefetch batch for
// keys the workload is about to touch.
func replay(ctx context.Context, engine *cache.AssetCache, fetcher types.AssetFetcher, assets, ops int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	zipf := rand.NewZipf(rng, 1.2, 1.0, uint64(assets-1))

	for i := 0; i < ops; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := assetKey(zipf.Uint64())
		if _, ok := engine.Get(ctx, key, nil); ok {
			continue
		}

		payload, err := fetcher.Fetch(ctx, key)
		if err != nil {
			continue
		}
		engine.Set(ctx, key, payload, nil)

		if i > 0 && i%500 == 0 {
			engine.Prefetch(ctx, upcomingBatch(zipf))
		}
	}
	return nil
}

func upcomingBatch(zipf *rand.Zipf) []types.PrefetchRequest {
	batch := make([]types.PrefetchRequest, 0, 8)
	for i := 0; i < 8; i++ {
		batch = append(batch, types.PrefetchRequest{
			AssetKey:   assetKey(zipf.Uint64()),
			Priority:   0.5 + float64(i%2)*0.4,
			Confidence: 0.9,
			MaxDelay:   5 * time.Second,
		})
	}
	return batch
}

func assetKey(n uint64) string {
	return fmt.Sprintf("assets/sample-%05d.wav", n)
}

// syntheticFetcher fabricates deterministic payloads so runs with the
// same seed are comparable. Size varies around the mean per key.
func syntheticFetcher(meanSize int) types.AssetFetcher {
	return types.AssetFetcherFunc(func(ctx context.Context, key string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := sha256.Sum256([]byte(key))
		spread := int(binary.BigEndian.Uint32(hash[:4]) % uint32(meanSize))
		size := meanSize/2 + spread
		payload := make([]byte, size)
		for i := 0; i < size; i += sha256.Size {
			block := sha256.Sum256(append(hash[:], byte(i), byte(i>>8), byte(i>>16)))
			copy(payload[i:], block[:])
		}
		return payload, nil
	})
}

func printSummary(stats types.CacheStats, origin health.State, ops int, elapsed time.Duration) error {
	summary := struct {
		Ops          int              `json:"ops"`
		Elapsed      string           `json:"elapsed"`
		OpsPerSec    float64          `json:"ops_per_sec"`
		OriginHealth string           `json:"origin_health"`
		CacheStats   types.CacheStats `json:"cache_stats"`
	}{
		Ops:          ops,
		Elapsed:      elapsed.Round(time.Millisecond).String(),
		OpsPerSec:    float64(ops) / elapsed.Seconds(),
		OriginHealth: origin.String(),
		CacheStats:   stats,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
