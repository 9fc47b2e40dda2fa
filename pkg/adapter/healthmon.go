package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHealthInterval is the cadence of the background health sweep.
const DefaultHealthInterval = 60 * time.Second

// HealthSink persists sweep outcomes. *services.AdapterService satisfies it.
type HealthSink interface {
	RecordHealth(ctx context.Context, name string, status string, checkedAt time.Time) error
}

// HealthMonitor periodically probes every registered adapter and persists
// the outcome. Degraded targets never stop the engine; the sweep only
// records state for operators.
type HealthMonitor struct {
	registry *Registry
	sink     HealthSink
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	statuses map[string]Health

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a health monitor. sink may be nil to keep the
// sweep in memory only.
func NewHealthMonitor(registry *Registry, sink HealthSink, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthMonitor{
		registry: registry,
		sink:     sink,
		interval: interval,
		logger:   logger.With("component", "adapter_health"),
		statuses: make(map[string]Health),
	}
}

// Start launches the background sweep loop. Calling Start on a running
// monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.loop(ctx)

	m.logger.Info("Adapter health monitor started",
		"interval", m.interval.String(), "adapters", m.registry.Size())
}

// Stop terminates the loop and waits for the in-flight sweep.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Adapter health monitor stopped")
}

// Statuses returns a copy of the latest sweep results keyed by adapter name.
func (m *HealthMonitor) Statuses() map[string]Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Health, len(m.statuses))
	for name, h := range m.statuses {
		out[name] = h
	}
	return out
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *HealthMonitor) sweep(ctx context.Context) {
	results := m.registry.HealthCheckAll(ctx)

	m.mu.Lock()
	for name, h := range results {
		m.statuses[name] = h
	}
	m.mu.Unlock()

	for name, h := range results {
		if h.Status != HealthHealthy {
			m.logger.Warn("Adapter unhealthy",
				"adapter", name, "status", string(h.Status), "message", h.Message)
		}
		if m.sink == nil {
			continue
		}
		if err := m.sink.RecordHealth(ctx, name, string(h.Status), h.CheckedAt); err != nil {
			m.logger.Error("Failed to persist adapter health",
				"adapter", name, "error", err)
		}
	}
}
