package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/template"
)

func stubOptions(stub *adapter.StubAdapter) ExecuteOptions {
	return ExecuteOptions{
		Mode: models.ModeProduction,
		TemplateContext: &template.Context{
			Steps:   map[string]any{},
			Context: map[string]any{},
		},
		ResolveAdapter: func(name string) (adapter.Adapter, bool) {
			if name == stub.Name() {
				return stub, true
			}
			return nil, false
		},
		Retry: DefaultRetryPolicy(),
	}
}

func isolateStep() models.Step {
	return models.Step{
		ID:       "isolate",
		Action:   "isolate_host",
		Executor: "firewall",
		Timeout:  30,
	}
}

func TestStepExecutor_ZeroTimeoutFailsImmediately(t *testing.T) {
	stub := adapter.NewStubAdapter("firewall", "isolate_host")
	step := isolateStep()
	step.Timeout = 0

	outcome := NewStepExecutor().ExecuteStep(context.Background(), step, stubOptions(stub))

	assert.False(t, outcome.StepResult.Success)
	require.NotNil(t, outcome.StepResult.Error)
	assert.Equal(t, CodeStepTimeout, outcome.StepResult.Error.Code)
	assert.Empty(t, stub.Calls(), "a zero timeout never reaches the adapter")
}

func TestStepExecutor_ThrownErrorSurfacesClassifiedCode(t *testing.T) {
	stub := adapter.NewStubAdapter("firewall", "isolate_host")
	stub.ExecuteFunc = func(_ context.Context, _ string, _ map[string]any, _ models.ExecutionMode) (*adapter.Result, error) {
		return nil, errors.New("connect ECONNREFUSED 10.0.0.5:443")
	}

	outcome := NewStepExecutor().ExecuteStep(context.Background(), isolateStep(), stubOptions(stub))

	assert.False(t, outcome.StepResult.Success)
	require.NotNil(t, outcome.StepResult.Error)
	assert.Equal(t, CodeAdapterConnection, outcome.StepResult.Error.Code)
	assert.True(t, outcome.StepResult.Error.Retryable)
}

func TestStepExecutor_NonRetryableErrorStopsRetrying(t *testing.T) {
	stub := adapter.NewStubAdapter("firewall", "isolate_host")
	stub.ExecuteFunc = func(_ context.Context, _ string, _ map[string]any, _ models.ExecutionMode) (*adapter.Result, error) {
		return nil, errors.New("401 unauthorized")
	}

	opts := stubOptions(stub)
	opts.Retry = RetryPolicy{MaxAttempts: 3, BackoffMS: 1}
	outcome := NewStepExecutor().ExecuteStep(context.Background(), isolateStep(), opts)

	assert.False(t, outcome.StepResult.Success)
	require.NotNil(t, outcome.StepResult.Error)
	assert.Equal(t, CodeAdapterAuth, outcome.StepResult.Error.Code)
	assert.False(t, outcome.StepResult.Error.Retryable)
	assert.Len(t, stub.Calls(), 1, "auth failures are not retried")
}

func TestStepExecutor_RetryableErrorRetriesUntilSuccess(t *testing.T) {
	stub := adapter.NewStubAdapter("firewall", "isolate_host")
	attempts := 0
	stub.ExecuteFunc = func(_ context.Context, action string, _ map[string]any, _ models.ExecutionMode) (*adapter.Result, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("ETIMEDOUT waiting for vendor API")
		}
		return adapter.NewSuccess(action, "firewall", 1, map[string]any{"isolated": true}), nil
	}

	opts := stubOptions(stub)
	opts.Retry = RetryPolicy{MaxAttempts: 3, BackoffMS: 1}
	outcome := NewStepExecutor().ExecuteStep(context.Background(), isolateStep(), opts)

	assert.True(t, outcome.StepResult.Success)
	assert.Nil(t, outcome.StepResult.Error)
	assert.Equal(t, map[string]any{"isolated": true}, outcome.StepResult.Output)
	assert.Len(t, stub.Calls(), 2)
}

func TestStepExecutor_AdapterReportedFailure(t *testing.T) {
	stub := adapter.NewStubAdapter("firewall", "isolate_host")
	stub.ExecuteFunc = func(_ context.Context, action string, _ map[string]any, _ models.ExecutionMode) (*adapter.Result, error) {
		return adapter.NewFailure(action, "firewall", CodeAdapterExecutionFailed, "host not managed by this tenant", false), nil
	}

	step := isolateStep()
	step.OnError = models.OnErrorContinue
	outcome := NewStepExecutor().ExecuteStep(context.Background(), step, stubOptions(stub))

	assert.False(t, outcome.StepResult.Success)
	require.NotNil(t, outcome.StepResult.Error)
	assert.Equal(t, CodeStepExecutionFailed, outcome.StepResult.Error.Code)
	assert.Equal(t, "host not managed by this tenant", outcome.StepResult.Error.Message)
	assert.True(t, outcome.ShouldContinue, "on_error continue keeps the run going")
}

func TestStepExecutor_FalseConditionSkips(t *testing.T) {
	stub := adapter.NewStubAdapter("firewall", "isolate_host")
	step := isolateStep()
	step.Condition = "{{ steps.triage.output.confirmed }}"

	outcome := NewStepExecutor().ExecuteStep(context.Background(), step, stubOptions(stub))

	assert.True(t, outcome.StepResult.Success)
	assert.True(t, outcome.StepResult.Skipped)
	assert.True(t, outcome.ShouldContinue)
	assert.Empty(t, stub.Calls(), "an undefined condition path resolves false and skips the adapter call")
}

func TestStepExecutor_UnknownExecutor(t *testing.T) {
	stub := adapter.NewStubAdapter("edr", "isolate_host")
	outcome := NewStepExecutor().ExecuteStep(context.Background(), isolateStep(), stubOptions(stub))

	assert.False(t, outcome.StepResult.Success)
	require.NotNil(t, outcome.StepResult.Error)
	assert.Equal(t, CodeAdapterNotFound, outcome.StepResult.Error.Code)
}
