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

func newTestExecution(id string) *NewExecution {
	return &NewExecution{
		ExecutionID:    id,
		RunbookID:      "rb-disk-cleanup",
		RunbookVersion: "1.2.0",
		RunbookName:    "Disk Cleanup",
		State:          models.StateIdle,
		Mode:           models.ModeProduction,
		StartedAt:      time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
}

func TestExecutionService_CreateAndGet(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.CreateExecution(ctx, newTestExecution("exec-1")))

	rec, err := svc.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "rb-disk-cleanup", rec.RunbookID)
	assert.Equal(t, "idle", rec.State)
	assert.Equal(t, "production", rec.Mode)
	assert.Equal(t, "2026-08-25T10:00:00.000Z", rec.StartedAt)
	assert.False(t, rec.CompletedAt.Valid)
}

func TestExecutionService_CreateValidation(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())

	err := svc.CreateExecution(context.Background(), &NewExecution{RunbookID: "rb"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestExecutionService_GetNotFound(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())

	_, err := svc.GetExecution(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutionService_UpdateStateGuarded(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.CreateExecution(ctx, newTestExecution("exec-1")))
	require.NoError(t, svc.UpdateExecutionState(ctx, "exec-1", models.StateIdle, models.StateValidating))

	// A second writer still holding the stale previous state loses.
	err := svc.UpdateExecutionState(ctx, "exec-1", models.StateIdle, models.StatePlanning)
	assert.ErrorIs(t, err, ErrConflict)

	err = svc.UpdateExecutionState(ctx, "missing", models.StateIdle, models.StateValidating)
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := svc.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "validating", rec.State)
}

func TestExecutionService_ContextSnapshotRoundTrip(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.CreateExecution(ctx, newTestExecution("exec-1")))

	_, err := svc.GetContextSnapshot(ctx, "exec-1")
	assert.ErrorIs(t, err, ErrNotFound, "no snapshot saved yet")

	snapshot := []byte(`{"execution_id":"exec-1","state":"awaiting_approval"}`)
	require.NoError(t, svc.SaveContextSnapshot(ctx, "exec-1", snapshot))

	got, err := svc.GetContextSnapshot(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, snapshot, got)
}

func TestExecutionService_Complete(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.CreateExecution(ctx, newTestExecution("exec-1")))

	err := svc.CompleteExecution(ctx, "exec-1", models.StateExecuting, time.Now(), 10, nil)
	require.Error(t, err, "non-terminal state must be rejected")
	assert.True(t, IsValidationError(err))

	completedAt := time.Date(2026, 8, 25, 10, 0, 12, 0, time.UTC)
	stepErr := &models.StepError{Code: "STEP_TIMEOUT", Message: "restart_service timed out"}
	require.NoError(t, svc.CompleteExecution(ctx, "exec-1", models.StateFailed, completedAt, 12000, stepErr))

	rec, err := svc.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", rec.State)
	assert.Equal(t, int64(12000), rec.DurationMS.Int64)
	assert.Contains(t, rec.Error.String, "STEP_TIMEOUT")
	assert.Equal(t, "2026-08-25T10:00:12.000Z", rec.CompletedAt.String)
}

func TestExecutionService_StepResults(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.CreateExecution(ctx, newTestExecution("exec-1")))

	started := time.Date(2026, 8, 25, 10, 0, 1, 0, time.UTC)
	require.NoError(t, svc.SaveStepResult(ctx, "exec-1", &models.StepResult{
		StepID:      "check_disk",
		StepName:    "Check disk usage",
		Action:      "run_diagnostic",
		Success:     true,
		StartedAt:   started,
		CompletedAt: started.Add(250 * time.Millisecond),
		DurationMS:  250,
		Output:      map[string]any{"usage_percent": 91.5},
	}))
	require.NoError(t, svc.SaveStepResult(ctx, "exec-1", &models.StepResult{
		StepID:      "clear_tmp",
		StepName:    "Clear temp files",
		Action:      "delete_file",
		Success:     false,
		StartedAt:   started.Add(time.Second),
		CompletedAt: started.Add(2 * time.Second),
		DurationMS:  1000,
		Error:       &models.StepError{Code: "ADAPTER_TIMEOUT", Message: "timeout", Retryable: true},
	}))

	recs, err := svc.GetStepResults(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "check_disk", recs[0].StepID)
	assert.True(t, recs[0].Success)
	assert.Contains(t, recs[0].Output.String, "usage_percent")
	assert.Equal(t, "clear_tmp", recs[1].StepID)
	assert.False(t, recs[1].Success)
	assert.Contains(t, recs[1].Error.String, "ADAPTER_TIMEOUT")
}

func TestExecutionService_ListAndCount(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewExecutionService(client.DB(), slog.Default())
	ctx := context.Background()

	for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
		ne := newTestExecution(id)
		ne.StartedAt = ne.StartedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.CreateExecution(ctx, ne))
	}
	require.NoError(t, svc.UpdateExecutionState(ctx, "exec-c", models.StateIdle, models.StateValidating))

	recs, err := svc.ListExecutions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "exec-c", recs[0].ExecutionID, "newest first")

	recs, err = svc.ListExecutions(ctx, "idle", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = svc.ListExecutions(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	counts, err := svc.CountExecutionsByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["idle"])
	assert.Equal(t, 1, counts["validating"])
}
