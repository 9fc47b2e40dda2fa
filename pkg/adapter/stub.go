package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/opsgate/opsgate/pkg/models"
)

// StubCall records one Execute or Rollback invocation on a StubAdapter.
type StubCall struct {
	Action   string
	Params   map[string]any
	Mode     models.ExecutionMode
	Rollback bool
}

// StubAdapter is a canned-response adapter for tests. The real vendor
// implementations live outside this module.
type StubAdapter struct {
	name    string
	actions []string

	// ExecuteFunc overrides the default success response.
	ExecuteFunc func(ctx context.Context, action string, params map[string]any, mode models.ExecutionMode) (*Result, error)

	// RollbackFunc overrides the default unsupported-rollback response.
	RollbackFunc func(ctx context.Context, action string, params map[string]any) (*Result, error)

	// MaxConcurrency is advertised through Capabilities; 0 means unlimited.
	MaxConcurrency int

	mu          sync.Mutex
	initialized bool
	calls       []StubCall
}

// NewStubAdapter creates a stub serving the given actions.
func NewStubAdapter(name string, actions ...string) *StubAdapter {
	return &StubAdapter{name: name, actions: actions}
}

func (s *StubAdapter) Name() string    { return s.name }
func (s *StubAdapter) Version() string { return "stub" }

func (s *StubAdapter) SupportedActions() []string {
	out := make([]string, len(s.actions))
	copy(out, s.actions)
	return out
}

func (s *StubAdapter) Initialize(_ context.Context, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *StubAdapter) Execute(ctx context.Context, action string, params map[string]any, mode models.ExecutionMode) (*Result, error) {
	s.record(StubCall{Action: action, Params: params, Mode: mode})
	if s.ExecuteFunc != nil {
		return s.ExecuteFunc(ctx, action, params, mode)
	}
	return NewSuccess(action, s.name, 1, map[string]any{"stub": true}), nil
}

func (s *StubAdapter) Rollback(ctx context.Context, action string, params map[string]any) (*Result, error) {
	s.record(StubCall{Action: action, Params: params, Rollback: true})
	if s.RollbackFunc != nil {
		return s.RollbackFunc(ctx, action, params)
	}
	return UnsupportedRollback(s.name, action), nil
}

func (s *StubAdapter) HealthCheck(_ context.Context) Health {
	return Health{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (s *StubAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportedActions:   s.SupportedActions(),
		SupportsSimulation: true,
		SupportsRollback:   s.RollbackFunc != nil,
		MaxConcurrency:     s.MaxConcurrency,
	}
}

func (s *StubAdapter) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

// Calls returns a copy of the recorded invocations.
func (s *StubAdapter) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Initialized reports whether Initialize has been called without a
// subsequent Shutdown.
func (s *StubAdapter) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *StubAdapter) record(call StubCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}
