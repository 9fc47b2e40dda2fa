package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/pkg/models"
	testdb "github.com/opsgate/opsgate/test/database"
)

func TestMetricsService_RecordRollupIdempotent(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewMetricsService(client.DB(), slog.Default())
	ctx := context.Background()

	start := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	require.NoError(t, svc.RecordRollup(ctx, start, end, "execution_success_rate", 0.8, nil))
	require.NoError(t, svc.RecordRollup(ctx, start, end, "execution_success_rate", 0.9, nil))

	recs, err := svc.ListRollups(ctx, "execution_success_rate", start, end)
	require.NoError(t, err)
	require.Len(t, recs, 1, "re-recording the same period overwrites")
	assert.Equal(t, 0.9, recs[0].MetricValue)
}

func TestMetricsService_DimensionsSeparateSeries(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewMetricsService(client.DB(), slog.Default())
	ctx := context.Background()

	start := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	require.NoError(t, svc.RecordRollup(ctx, start, end, "executions_total", 3,
		map[string]string{"runbook_id": "rb-a"}))
	require.NoError(t, svc.RecordRollup(ctx, start, end, "executions_total", 5,
		map[string]string{"runbook_id": "rb-b"}))

	recs, err := svc.ListRollups(ctx, "executions_total", start, end)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMetricsService_RollupExecutions(t *testing.T) {
	client := testdb.NewTestClient(t)
	execSvc := NewExecutionService(client.DB(), slog.Default())
	svc := NewMetricsService(client.DB(), slog.Default())
	ctx := context.Background()

	periodStart := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	periodEnd := periodStart.Add(time.Hour)

	covered, err := svc.RollupExecutions(ctx, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Zero(t, covered, "empty period records nothing")

	seed := []struct {
		id    string
		state models.ExecutionState
		ms    int64
	}{
		{"exec-1", models.StateCompleted, 1000},
		{"exec-2", models.StateCompleted, 3000},
		{"exec-3", models.StateFailed, 2000},
	}
	for i, s := range seed {
		ne := newTestExecution(s.id)
		require.NoError(t, execSvc.CreateExecution(ctx, ne))
		completedAt := periodStart.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, execSvc.CompleteExecution(ctx, s.id, s.state, completedAt, s.ms, nil))
	}

	covered, err = svc.RollupExecutions(ctx, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 3, covered)

	recs, err := svc.ListRollups(ctx, "execution_success_rate", periodStart, periodEnd.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 2.0/3.0, recs[0].MetricValue, 1e-9)

	recs, err = svc.ListRollups(ctx, "execution_avg_ms", periodStart, periodEnd.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 2000, recs[0].MetricValue, 1e-9)
}
