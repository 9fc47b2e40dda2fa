// Package adapter defines the uniform contract between the engine and
// vendor tool integrations (EDR, SIEM, firewall, IAM, ticketing,
// enrichment), plus the registry the scheduler dispatches through.
//
// Vendor adapter bodies live outside this module; the engine only depends
// on the contract below.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/opsgate/opsgate/pkg/models"
)

// HealthStatus is the reported health of one adapter.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Health is the result of an adapter health check.
type Health struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Capabilities advertises what an adapter supports.
type Capabilities struct {
	SupportedActions   []string `json:"supported_actions"`
	SupportsSimulation bool     `json:"supports_simulation"`
	SupportsRollback   bool     `json:"supports_rollback"`
	SupportsValidation bool     `json:"supports_validation"`

	// MaxConcurrency limits concurrent Execute calls; 0 means unlimited.
	MaxConcurrency int `json:"max_concurrency"`
}

// Error is the failure variant carried inside a Result.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Adapter   string `json:"adapter"`
	Action    string `json:"action"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (adapter=%s action=%s)", e.Code, e.Message, e.Adapter, e.Action)
}

// Result is the uniform outcome of an adapter Execute or Rollback call.
type Result struct {
	Success    bool           `json:"success"`
	Action     string         `json:"action"`
	Executor   string         `json:"executor"`
	DurationMS int64          `json:"duration_ms"`
	Output     map[string]any `json:"output,omitempty"`
	Error      *Error         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ValidationResult is the outcome of pre-flight parameter validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Adapter is the stable boundary toward vendor integrations. Adapters must
// be safe for concurrent Execute calls up to their declared MaxConcurrency.
type Adapter interface {
	Name() string
	Version() string

	// SupportedActions returns the immutable set of action symbols this
	// adapter serves.
	SupportedActions() []string

	// Initialize is one-shot; calling it again is only valid after
	// Shutdown.
	Initialize(ctx context.Context, config map[string]any) error

	// Execute performs one action. In simulation mode the adapter must not
	// produce external side effects.
	Execute(ctx context.Context, action string, params map[string]any, mode models.ExecutionMode) (*Result, error)

	// Rollback undoes a previously executed action. Adapters without
	// rollback support return UnsupportedRollback.
	Rollback(ctx context.Context, action string, params map[string]any) (*Result, error)

	HealthCheck(ctx context.Context) Health
	Capabilities() Capabilities
	Shutdown(ctx context.Context) error
}

// ParameterValidator is optionally implemented by adapters that can
// pre-flight validate parameters before execution.
type ParameterValidator interface {
	ValidateParameters(action string, params map[string]any) ValidationResult
}

// Error codes produced by adapter helpers and the registry.
const (
	CodeRollbackNotSupported = "ROLLBACK_NOT_SUPPORTED"
	CodeActionNotSupported   = "ACTION_NOT_SUPPORTED"
)

// NewSuccess builds a successful Result.
func NewSuccess(action, executor string, durationMS int64, output map[string]any) *Result {
	return &Result{
		Success:    true,
		Action:     action,
		Executor:   executor,
		DurationMS: durationMS,
		Output:     output,
	}
}

// NewFailure builds a failed Result with a classified error.
func NewFailure(action, executor, code, message string, retryable bool) *Result {
	return &Result{
		Success:  false,
		Action:   action,
		Executor: executor,
		Error: &Error{
			Code:      code,
			Message:   message,
			Adapter:   executor,
			Action:    action,
			Retryable: retryable,
		},
	}
}

// UnsupportedRollback is the default Rollback result for adapters that do
// not implement compensation.
func UnsupportedRollback(name, action string) *Result {
	return NewFailure(action, name, CodeRollbackNotSupported,
		fmt.Sprintf("adapter %q does not support rollback for action %q", name, action), false)
}
