package adapter

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memHealthSink struct {
	mu      sync.Mutex
	records map[string]string
}

func (s *memHealthSink) RecordHealth(_ context.Context, name, status string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]string)
	}
	s.records[name] = status
	return nil
}

func TestHealthMonitor_SweepPersistsStatuses(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(context.Background(),
		NewStubAdapter("siem", "collect_logs"), nil))
	require.NoError(t, registry.Register(context.Background(),
		NewStubAdapter("edr", "isolate_host"), nil))

	sink := &memHealthSink{}
	m := NewHealthMonitor(registry, sink, time.Hour, slog.Default())

	m.sweep(context.Background())

	assert.Equal(t, map[string]string{
		"siem": "healthy",
		"edr":  "healthy",
	}, sink.records)

	statuses := m.Statuses()
	require.Contains(t, statuses, "siem")
	assert.Equal(t, HealthHealthy, statuses["siem"].Status)
}

func TestHealthMonitor_StartStop(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(context.Background(),
		NewStubAdapter("siem", "collect_logs"), nil))

	m := NewHealthMonitor(registry, nil, time.Hour, slog.Default())
	m.Start(context.Background())
	m.Start(context.Background()) // second Start is a no-op
	m.Stop()

	// Stop without Start is a no-op.
	NewHealthMonitor(registry, nil, 0, slog.Default()).Stop()
}
