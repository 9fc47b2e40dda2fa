package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/engine"
	"github.com/opsgate/opsgate/pkg/models"
	testdb "github.com/opsgate/opsgate/test/database"
)

// recordingResumer captures resume calls from the queue executor.
type recordingResumer struct {
	approved []models.StepResult
	denied   []string
}

func (r *recordingResumer) ResumeApproved(_ context.Context, _ *models.ApprovalQueueEntry, sr *models.StepResult) (*models.ExecutionResult, error) {
	r.approved = append(r.approved, *sr)
	return &models.ExecutionResult{}, nil
}

func (r *recordingResumer) ResumeDenied(_ context.Context, _ *models.ApprovalQueueEntry, code, _ string) (*models.ExecutionResult, error) {
	r.denied = append(r.denied, code)
	return &models.ExecutionResult{}, nil
}

type executorFixture struct {
	store    *Store
	executor *Executor
	registry *adapter.Registry
	stub     *adapter.StubAdapter
	log      *audit.MemoryLog
	resumer  *recordingResumer
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	client := testdb.NewTestClient(t)
	store := NewStore(client.DB(), slog.Default())
	seedExecution(t, client.DB(), "exec-1")

	registry := adapter.NewRegistry()
	stub := adapter.NewStubAdapter("firewall", "isolate_host", "block_ip")
	require.NoError(t, registry.Register(context.Background(), stub, nil))

	log := audit.NewMemoryLog()
	resumer := &recordingResumer{}
	executor := NewExecutor(store, registry, log, resumer, slog.Default())

	return &executorFixture{
		store:    store,
		executor: executor,
		registry: registry,
		stub:     stub,
		log:      log,
		resumer:  resumer,
	}
}

func TestExecutor_ApproveAndExecute(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	entry, err := f.store.Create(ctx, testCreateRequest("exec-1"))
	require.NoError(t, err)

	f.stub.ExecuteFunc = func(_ context.Context, action string, _ map[string]any, _ models.ExecutionMode) (*adapter.Result, error) {
		return adapter.NewSuccess(action, "firewall", 5, map[string]any{"isolated": true}), nil
	}

	result, err := f.executor.ApproveAndExecute(ctx, entry.RequestID, "analyst@soc")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, entry.RequestID, result.RequestID)
	assert.Equal(t, "analyst@soc", result.ExecutedBy)
	assert.Equal(t, map[string]any{"isolated": true}, result.Output)

	// The adapter received exactly the frozen parameters, in production mode.
	calls := f.stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "isolate_host", calls[0].Action)
	assert.Equal(t, models.ModeProduction, calls[0].Mode)
	assert.Equal(t, "ws-42", calls[0].Params["hostname"])
	assert.Equal(t, float64(24), calls[0].Params["duration_hours"])

	assert.Equal(t,
		[]models.AuditEventType{models.AuditApprovalGranted, models.AuditApprovalQueueExecuted},
		f.log.EventTypes("exec-1"))

	require.Len(t, f.resumer.approved, 1)
	assert.True(t, f.resumer.approved[0].Success)
	assert.Equal(t, "isolate", f.resumer.approved[0].StepID)
}

func TestExecutor_NeverDispatchesThroughUndeclaredAdapter(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewStore(client.DB(), slog.Default())
	seedExecution(t, client.DB(), "exec-1")
	ctx := context.Background()

	// Another vendor's adapter serves the same action, but the runbook step
	// named "firewall", which is not registered.
	registry := adapter.NewRegistry()
	otherVendor := adapter.NewStubAdapter("other-vendor", "isolate_host")
	require.NoError(t, registry.Register(ctx, otherVendor, nil))

	log := audit.NewMemoryLog()
	executor := NewExecutor(store, registry, log, nil, slog.Default())

	entry, err := store.Create(ctx, testCreateRequest("exec-1"))
	require.NoError(t, err)
	require.Equal(t, "firewall", entry.Executor)

	result, err := executor.ApproveAndExecute(ctx, entry.RequestID, "analyst@soc")
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, engine.CodeAdapterNotFound, result.Error.Code)
	assert.Contains(t, result.Error.Message, "firewall")

	assert.Empty(t, otherVendor.Calls(), "the write must not run through an adapter the runbook never named")
}

func TestExecutor_DeclaredAdapterMustSupportAction(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	req := testCreateRequest("exec-1")
	req.Action = "block_domain"
	entry, err := f.store.Create(ctx, req)
	require.NoError(t, err)

	result, err := f.executor.ApproveAndExecute(ctx, entry.RequestID, "analyst@soc")
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, engine.CodeAdapterNotFound, result.Error.Code)
	assert.Empty(t, f.stub.Calls())
}

func TestExecutor_AdapterFailureCarriedInResult(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	entry, err := f.store.Create(ctx, testCreateRequest("exec-1"))
	require.NoError(t, err)

	f.stub.ExecuteFunc = func(_ context.Context, _ string, _ map[string]any, _ models.ExecutionMode) (*adapter.Result, error) {
		return nil, errors.New("connect ECONNREFUSED 10.0.0.5:443")
	}

	result, err := f.executor.ApproveAndExecute(ctx, entry.RequestID, "analyst@soc")
	require.NoError(t, err, "a normal failure path never surfaces as a Go error")
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, engine.CodeAdapterConnection, result.Error.Code)
	assert.True(t, result.Error.Retryable)

	assert.Equal(t,
		[]models.AuditEventType{models.AuditApprovalGranted, models.AuditStepFailed},
		f.log.EventTypes("exec-1"))
}

func TestExecutor_ExpiredApproval(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	req := testCreateRequest("exec-1")
	req.TTL = time.Minute
	entry, err := f.store.Create(ctx, req)
	require.NoError(t, err)

	f.store.now = func() time.Time { return entry.RequestedAt.Add(61 * time.Second) }

	_, err = f.executor.ApproveAndExecute(ctx, entry.RequestID, "analyst@soc")
	assert.ErrorIs(t, err, ErrRequestExpired)

	got, err := f.store.GetByID(ctx, entry.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, got.Status)

	assert.Empty(t, f.stub.Calls(), "expired entries never reach the adapter")
	assert.Equal(t,
		[]models.AuditEventType{models.AuditApprovalExpired},
		f.log.EventTypes("exec-1"))
	assert.Equal(t, []string{engine.CodeApprovalExpired}, f.resumer.denied)
}

func TestExecutor_DenyRequest(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	entry, err := f.store.Create(ctx, testCreateRequest("exec-1"))
	require.NoError(t, err)

	denied, err := f.executor.DenyRequest(ctx, entry.RequestID, "not during business hours")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusDenied, denied.Status)

	assert.Empty(t, f.stub.Calls())
	assert.Equal(t,
		[]models.AuditEventType{models.AuditApprovalDenied},
		f.log.EventTypes("exec-1"))
	assert.Equal(t, []string{engine.CodeApprovalDenied}, f.resumer.denied)
}

func TestExecutor_ExpireStaleAuditsEachEntry(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	base := time.Now().UTC()
	f.store.now = func() time.Time { return base }

	req := testCreateRequest("exec-1")
	req.TTL = time.Minute
	_, err := f.store.Create(ctx, req)
	require.NoError(t, err)

	f.store.now = func() time.Time { return base.Add(2 * time.Minute) }

	count, err := f.executor.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t,
		[]models.AuditEventType{models.AuditApprovalExpired},
		f.log.EventTypes("exec-1"))
	assert.Equal(t, []string{engine.CodeApprovalExpired}, f.resumer.denied)

	count, err = f.executor.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExecutor_ListPendingApprovals(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	entry, err := f.store.Create(ctx, testCreateRequest("exec-1"))
	require.NoError(t, err)

	pending, err := f.executor.ListPendingApprovals(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.RequestID, pending[0].RequestID)
}
