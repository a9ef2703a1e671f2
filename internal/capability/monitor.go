// Package capability provides the default CapabilitySource. It samples
// runtime memory statistics on an interval and classifies headroom into
// a pressure level; the network class is set by the host application,
// which knows its transport state.
package capability

import (
	"runtime"
	"sync"
	"time"

	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// MonitorConfig configures the sampling monitor.
type MonitorConfig struct {
	// SampleInterval is how often to read memory stats.
	SampleInterval time.Duration

	// HeapBudget is the heap-in-use size treated as 100% utilization.
	// Zero means derive pressure from the Go heap goal instead.
	HeapBudget uint64

	// ModerateThreshold and CriticalThreshold are utilization fractions.
	ModerateThreshold float64
	CriticalThreshold float64

	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:    30 * time.Second,
		ModerateThreshold: 0.70,
		CriticalThreshold: 0.90,
	}
}

// Monitor implements types.CapabilitySource. Snapshot never blocks; it
// returns the most recent sample.
type Monitor struct {
	config MonitorConfig
	logger *utils.StructuredLogger

	mu       sync.RWMutex
	pressure types.MemoryPressure
	network  types.NetworkClass
	sampled  time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewMonitor builds a monitor. Call Start to begin sampling; before the
// first sample, Snapshot reports low pressure and a fast network.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = 30 * time.Second
	}
	if config.ModerateThreshold <= 0 {
		config.ModerateThreshold = 0.70
	}
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = 0.90
	}
	if config.Logger == nil {
		config.Logger = utils.NewNopLogger()
	}

	return &Monitor{
		config:   config,
		logger:   config.Logger.WithField("component", "capability-monitor"),
		pressure: types.MemoryPressureLow,
		network:  types.NetworkFast,
		stopCh:   make(chan struct{}),
	}
}

// Start begins background sampling. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.sample()

	m.wg.Add(1)
	go m.sampleLoop()
}

// Stop halts sampling. Snapshot keeps returning the last sample.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// Snapshot implements types.CapabilitySource.
func (m *Monitor) Snapshot() types.CapabilitySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return types.CapabilitySnapshot{
		MemoryPressure: m.pressure,
		NetworkClass:   m.network,
		TakenAt:        m.sampled,
	}
}

// SetNetworkClass records the host's view of the network. The engine
// cannot probe connectivity itself without generating traffic.
func (m *Monitor) SetNetworkClass(class types.NetworkClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.network = class
}

func (m *Monitor) sampleLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	budget := m.config.HeapBudget
	if budget == 0 {
		// NextGC is the heap goal; in-use heap approaching it means the
		// runtime is about to work hard to stay inside the budget.
		budget = memStats.NextGC
	}

	var utilization float64
	if budget > 0 {
		utilization = float64(memStats.HeapInuse) / float64(budget)
	}

	pressure := types.MemoryPressureLow
	switch {
	case utilization >= m.config.CriticalThreshold:
		pressure = types.MemoryPressureCritical
	case utilization >= m.config.ModerateThreshold:
		pressure = types.MemoryPressureModerate
	}

	m.mu.Lock()
	changed := pressure != m.pressure
	m.pressure = pressure
	m.sampled = time.Now()
	m.mu.Unlock()

	if changed {
		m.logger.Info("memory pressure changed", map[string]interface{}{
			"pressure":    string(pressure),
			"heap_inuse":  memStats.HeapInuse,
			"heap_budget": budget,
		})
	}
}

// Static is a fixed CapabilitySource for hosts that manage their own
// device signals.
type Static struct {
	Memory  types.MemoryPressure
	Network types.NetworkClass
}

// Snapshot implements types.CapabilitySource.
func (s Static) Snapshot() types.CapabilitySnapshot {
	return types.CapabilitySnapshot{
		MemoryPressure: s.Memory,
		NetworkClass:   s.Network,
		TakenAt:        time.Now(),
	}
}
