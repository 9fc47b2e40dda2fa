package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/template"
)

// RetryPolicy controls retries around a single adapter call. Retries apply
// only to errors classified as retryable and are transparent to the audit
// log: the step is recorded once with total wall time.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (minimum 1).
	MaxAttempts int `json:"max_attempts"`

	// BackoffMS is the base delay between attempts in milliseconds.
	BackoffMS int `json:"backoff_ms"`

	// Exponential doubles the delay each attempt; otherwise it is constant.
	Exponential bool `json:"exponential"`
}

// DefaultRetryPolicy performs a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	base := time.Duration(p.BackoffMS) * time.Millisecond
	var b backoff.BackOff
	if p.Exponential {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = base
		exp.Multiplier = 2
		exp.RandomizationFactor = 0
		exp.MaxElapsedTime = 0
		b = exp
	} else {
		b = backoff.NewConstantBackOff(base)
	}
	b = backoff.WithMaxRetries(b, uint64(p.attempts()-1))
	return backoff.WithContext(b, ctx)
}

// ExecuteOptions parameterizes one step execution.
type ExecuteOptions struct {
	Mode            models.ExecutionMode
	TemplateContext *template.Context
	ResolveAdapter  adapter.Resolver
	Retry           RetryPolicy
}

// ExecuteOutcome is the step executor's result triple.
type ExecuteOutcome struct {
	StepResult     models.StepResult
	ShouldContinue bool
	HasRollback    bool
}

// StepExecutor executes one step through a resolved adapter with template
// resolution, a condition guard, a per-step timeout, and error
// classification.
type StepExecutor struct{}

// NewStepExecutor creates a step executor.
func NewStepExecutor() *StepExecutor {
	return &StepExecutor{}
}

// ExecuteStep runs a single step. All timestamps are UTC; DurationMS is
// wall-clock across retries.
func (e *StepExecutor) ExecuteStep(ctx context.Context, step models.Step, opts ExecuteOptions) ExecuteOutcome {
	started := time.Now()
	result := models.StepResult{
		StepID:    step.ID,
		StepName:  step.DisplayName(),
		Action:    step.Action,
		StartedAt: started,
	}
	hasRollback := step.Rollback != nil

	finish := func(success bool, stepErr *models.StepError) ExecuteOutcome {
		result.Success = success
		result.Error = stepErr
		result.CompletedAt = time.Now()
		result.DurationMS = result.CompletedAt.Sub(started).Milliseconds()
		return ExecuteOutcome{
			StepResult:     result,
			ShouldContinue: success || step.OnErrorPolicyOrDefault() != models.OnErrorHalt,
			HasRollback:    hasRollback,
		}
	}

	// 1. Resolve parameters.
	params := template.ResolveParameters(step.Parameters, opts.TemplateContext)

	// 2. Condition guard.
	if step.Condition != "" {
		resolved := template.Resolve(step.Condition, opts.TemplateContext)
		if !EvaluateCondition(conditionString(resolved)) {
			result.Skipped = true
			outcome := finish(true, nil)
			outcome.ShouldContinue = true
			slog.Debug("Step condition false, skipping", "step_id", step.ID, "condition", step.Condition)
			return outcome
		}
	}

	// 3. Adapter lookup.
	ad, ok := opts.ResolveAdapter(step.Executor)
	if !ok {
		return finish(false, &models.StepError{
			Code:    CodeAdapterNotFound,
			Message: fmt.Sprintf("no adapter registered under %q", step.Executor),
		})
	}

	// 4–6. Execute with timeout and retry.
	adapterResult, stepErr := e.callWithRetry(ctx, ad, step, params, opts)
	if stepErr != nil {
		return finish(false, stepErr)
	}

	result.Output = adapterResult.Output
	return finish(true, nil)
}

// callWithRetry races a single (retry-wrapped) adapter call against the
// step timeout. Only retryable classifications are retried.
func (e *StepExecutor) callWithRetry(ctx context.Context, ad adapter.Adapter, step models.Step, params map[string]any, opts ExecuteOptions) (*adapter.Result, *models.StepError) {
	// A zero timeout fails immediately.
	if step.Timeout <= 0 {
		return nil, &models.StepError{
			Code:    CodeStepTimeout,
			Message: fmt.Sprintf("step %s timed out after %ds", step.ID, step.Timeout),
		}
	}

	stepCtx, cancel := context.WithTimeout(ctx, time.Duration(step.Timeout)*time.Second)
	defer cancel()

	var lastResult *adapter.Result
	var lastErr *models.StepError

	operation := func() error {
		res, err := ad.Execute(stepCtx, step.Action, params, opts.Mode)
		if err != nil {
			// The classified code surfaces in the step result, same as the
			// queue executor's approved-write path.
			code, retryable := ClassifyAdapterError(err.Error())
			lastErr = &models.StepError{
				Code:      code,
				Message:   err.Error(),
				Retryable: retryable,
			}
			if !retryable {
				return backoff.Permanent(err)
			}
			slog.Debug("Retryable adapter error", "step_id", step.ID, "code", code, "error", err)
			return err
		}
		if res == nil {
			lastErr = &models.StepError{
				Code:    CodeStepExecutionError,
				Message: "adapter returned nil result",
			}
			return backoff.Permanent(fmt.Errorf("nil result"))
		}
		if !res.Success {
			msg := "adapter reported failure"
			retryable := false
			if res.Error != nil {
				msg = res.Error.Message
				retryable = res.Error.Retryable
			}
			lastErr = &models.StepError{
				Code:      CodeStepExecutionFailed,
				Message:   msg,
				Retryable: retryable,
			}
			if !retryable {
				return backoff.Permanent(fmt.Errorf("%s", msg))
			}
			return fmt.Errorf("%s", msg)
		}
		lastResult = res
		lastErr = nil
		return nil
	}

	err := backoff.Retry(operation, opts.Retry.newBackOff(stepCtx))
	if err == nil && lastResult != nil {
		return lastResult, nil
	}

	// Timeout wins over whatever the last attempt reported.
	if stepCtx.Err() == context.DeadlineExceeded {
		return nil, &models.StepError{
			Code:    CodeStepTimeout,
			Message: fmt.Sprintf("step %s timed out after %ds", step.ID, step.Timeout),
		}
	}

	if lastErr == nil {
		lastErr = &models.StepError{Code: CodeStepExecutionError, Message: err.Error()}
	}
	return nil, lastErr
}

// conditionString renders a template-resolved condition for evaluation.
// nil (an undefined path) evaluates as empty, hence false.
func conditionString(resolved any) string {
	if resolved == nil {
		return ""
	}
	if s, ok := resolved.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", resolved)
}
