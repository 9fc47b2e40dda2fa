package cleanup

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/services"
	testdb "github.com/opsgate/opsgate/test/database"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, 12*time.Hour, cfg.Interval)
}

func TestNewService_AppliesDefaults(t *testing.T) {
	s := NewService(Config{}, nil, slog.Default())
	assert.Equal(t, 90, s.config.RetentionDays)
	assert.Equal(t, 12*time.Hour, s.config.Interval)
}

func TestService_SweepPurgesOldRuns(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	logger := slog.Default()

	execSvc := services.NewExecutionService(client.DB(), logger)
	completedAt := time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, execSvc.CreateExecution(ctx, &services.NewExecution{
		ExecutionID:    "exec-stale",
		RunbookID:      "rb-triage",
		RunbookVersion: "1.0.0",
		RunbookName:    "Alert Triage",
		State:          models.StateIdle,
		Mode:           models.ModeProduction,
		StartedAt:      completedAt.Add(-time.Minute),
	}))
	require.NoError(t, execSvc.CompleteExecution(ctx, "exec-stale",
		models.StateCompleted, completedAt, 60000, nil))

	s := NewService(Config{RetentionDays: 7, Interval: time.Hour},
		services.NewRetentionService(client.DB(), logger), logger)
	s.sweep(ctx)

	_, err := execSvc.GetExecution(ctx, "exec-stale")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestService_StartStop(t *testing.T) {
	client := testdb.NewTestClient(t)
	logger := slog.Default()

	s := NewService(Config{RetentionDays: 7, Interval: time.Hour},
		services.NewRetentionService(client.DB(), logger), logger)

	s.Start(context.Background())
	s.Stop()

	// Stop without Start is a no-op.
	NewService(Config{}, nil, logger).Stop()
}
