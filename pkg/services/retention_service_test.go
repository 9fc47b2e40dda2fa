package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/models"
	testdb "github.com/opsgate/opsgate/test/database"
)

func seedTerminalExecution(t *testing.T, svc *ExecutionService, id string, completedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	ne := newTestExecution(id)
	ne.StartedAt = completedAt.Add(-time.Minute)
	require.NoError(t, svc.CreateExecution(ctx, ne))
	require.NoError(t, svc.UpdateExecutionState(ctx, id, models.StateIdle, models.StateValidating))
	require.NoError(t, svc.SaveStepResult(ctx, id, &models.StepResult{
		StepID:      "collect",
		StepName:    "Collect",
		Action:      "collect_logs",
		Success:     true,
		StartedAt:   ne.StartedAt,
		CompletedAt: completedAt,
	}))
	require.NoError(t, svc.CompleteExecution(ctx, id, models.StateCompleted, completedAt, 60000, nil))
}

func TestRetentionService_PurgeOldExecutions(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	logger := slog.Default()

	execSvc := NewExecutionService(client.DB(), logger)
	auditLog := audit.NewLogger(client.DB())
	retention := NewRetentionService(client.DB(), logger)

	old := time.Now().UTC().AddDate(0, 0, -120)
	recent := time.Now().UTC().Add(-time.Hour)

	seedTerminalExecution(t, execSvc, "exec-old", old)
	seedTerminalExecution(t, execSvc, "exec-recent", recent)

	for _, id := range []string{"exec-old", "exec-recent"} {
		_, err := auditLog.Record(ctx, audit.Event{
			ExecutionID: id,
			RunbookID:   "rb-disk-cleanup",
			Type:        models.AuditExecutionStarted,
			Details:     map[string]any{"runbook_id": "rb-disk-cleanup"},
		})
		require.NoError(t, err)
	}

	// Terminal approval entry tied to the old execution.
	_, err := client.DB().ExecContext(ctx, `
		INSERT INTO approval_queue (request_id, execution_id, runbook_id, runbook_name,
			step_id, step_name, action, parameters, simulation_result, status,
			requested_at, expires_at)
		VALUES ('req-old', 'exec-old', 'rb-disk-cleanup', 'Disk Cleanup',
			'purge', 'Purge', 'delete_file', '{}', '{}', 'approved', ?, ?)`,
		old.Format(models.TimestampFormat), old.Format(models.TimestampFormat))
	require.NoError(t, err)

	n, err := retention.PurgeOldExecutions(ctx, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = execSvc.GetExecution(ctx, "exec-old")
	assert.ErrorIs(t, err, ErrNotFound)

	kept, err := execSvc.GetExecution(ctx, "exec-recent")
	require.NoError(t, err)
	assert.Equal(t, "exec-recent", kept.ExecutionID)

	steps, err := execSvc.GetStepResults(ctx, "exec-old")
	require.NoError(t, err)
	assert.Empty(t, steps)

	entries, err := auditLog.GetExecutionLog(ctx, "exec-old")
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = auditLog.GetExecutionLog(ctx, "exec-recent")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	var approvals int
	require.NoError(t, client.DB().GetContext(ctx, &approvals,
		`SELECT COUNT(*) FROM approval_queue WHERE execution_id = 'exec-old'`))
	assert.Zero(t, approvals)
}

func TestRetentionService_KeepsNonTerminalRuns(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	execSvc := NewExecutionService(client.DB(), slog.Default())
	retention := NewRetentionService(client.DB(), slog.Default())

	ne := newTestExecution("exec-parked")
	ne.StartedAt = time.Now().UTC().AddDate(0, 0, -120)
	require.NoError(t, execSvc.CreateExecution(ctx, ne))

	n, err := retention.PurgeOldExecutions(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = execSvc.GetExecution(ctx, "exec-parked")
	assert.NoError(t, err)
}
