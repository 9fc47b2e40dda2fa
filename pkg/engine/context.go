package engine

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/template"
)

// ExecutionContext is the per-run mutable state. It is exclusively owned by
// the scheduler that drives its run; no other component mutates it. The
// step executor reads it through TemplateContext.
type ExecutionContext struct {
	ExecutionID    string
	RunbookID      string
	RunbookVersion string
	Mode           models.ExecutionMode
	Alert          *models.AlertEvent
	StartedAt      time.Time
	CurrentStep    string
	CompletedSteps []string
	State          models.ExecutionState
	Error          *models.StepError

	// variables is the namespaced store backing GetVariable and template
	// resolution; steps.{id}.output is mirrored here on SetStepOutput.
	variables map[string]any
}

// NewExecutionContext creates a context for one run with a fresh UUID and
// state idle.
func NewExecutionContext(rb *models.Runbook, alert *models.AlertEvent, mode models.ExecutionMode) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:    uuid.New().String(),
		RunbookID:      rb.ID,
		RunbookVersion: rb.Version,
		Mode:           mode,
		Alert:          alert,
		StartedAt:      time.Now(),
		State:          models.StateIdle,
		variables: map[string]any{
			"steps": map[string]any{},
		},
	}
}

// SetCurrentStep records the step the scheduler is about to execute.
func (c *ExecutionContext) SetCurrentStep(stepID string) {
	c.CurrentStep = stepID
}

// MarkStepCompleted appends the step to the ordered completed set.
// Idempotent on repeat; clears CurrentStep when it matches.
func (c *ExecutionContext) MarkStepCompleted(stepID string) {
	if !slices.Contains(c.CompletedSteps, stepID) {
		c.CompletedSteps = append(c.CompletedSteps, stepID)
	}
	if c.CurrentStep == stepID {
		c.CurrentStep = ""
	}
}

// SetStepOutput records a step's output and mirrors it under
// variables.steps.{id}.output so snapshots and templates observe it.
func (c *ExecutionContext) SetStepOutput(stepID string, output map[string]any) {
	steps := c.variables["steps"].(map[string]any)
	entry, ok := steps[stepID].(map[string]any)
	if !ok {
		entry = map[string]any{}
		steps[stepID] = entry
	}
	entry["output"] = output
}

// StepOutput returns the recorded output for a step, or nil.
func (c *ExecutionContext) StepOutput(stepID string) map[string]any {
	steps := c.variables["steps"].(map[string]any)
	entry, ok := steps[stepID].(map[string]any)
	if !ok {
		return nil
	}
	output, _ := entry["output"].(map[string]any)
	return output
}

// SetState updates the context state. Transition validity is the state
// machine's concern, not the context's.
func (c *ExecutionContext) SetState(state models.ExecutionState) {
	c.State = state
}

// SetError records the terminal error.
func (c *ExecutionContext) SetError(err *models.StepError) {
	c.Error = err
}

// GetVariable resolves a dotted path through the context's namespaces.
// Pure: repeated calls on an unchanged context return equal results.
func (c *ExecutionContext) GetVariable(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	var root map[string]any
	switch segments[0] {
	case "steps":
		root = c.variables
		return walk(root, segments)
	case "alert":
		if c.Alert == nil {
			return nil, false
		}
		return walk(map[string]any{"alert": c.Alert.Fields()}, segments)
	case "context":
		return walk(map[string]any{"context": c.contextFields()}, segments)
	default:
		return nil, false
	}
}

func walk(root map[string]any, segments []string) (any, bool) {
	var current any = root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// contextFields exposes execution-level values under the context.*
// template namespace.
func (c *ExecutionContext) contextFields() map[string]any {
	return map[string]any{
		"execution_id":    c.ExecutionID,
		"runbook_id":      c.RunbookID,
		"runbook_version": c.RunbookVersion,
		"mode":            string(c.Mode),
		"state":           string(c.State),
		"started_at":      models.FormatTimestamp(c.StartedAt),
	}
}

// TemplateContext builds the layered lookup the template resolver consumes.
func (c *ExecutionContext) TemplateContext() *template.Context {
	steps, _ := c.variables["steps"].(map[string]any)
	return &template.Context{
		Alert:   c.Alert.Fields(),
		Steps:   steps,
		Context: c.contextFields(),
	}
}

// contextSnapshot is the serialized form of an ExecutionContext.
type contextSnapshot struct {
	ExecutionID    string                `json:"execution_id"`
	RunbookID      string                `json:"runbook_id"`
	RunbookVersion string                `json:"runbook_version"`
	Mode           models.ExecutionMode  `json:"mode"`
	Alert          *models.AlertEvent    `json:"alert,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	CurrentStep    string                `json:"current_step,omitempty"`
	CompletedSteps []string              `json:"completed_steps"`
	Variables      map[string]any        `json:"variables"`
	State          models.ExecutionState `json:"state"`
	Error          *models.StepError     `json:"error,omitempty"`
}

// Snapshot serializes a deep clone of the context, safe for persistence.
func (c *ExecutionContext) Snapshot() ([]byte, error) {
	snap := contextSnapshot{
		ExecutionID:    c.ExecutionID,
		RunbookID:      c.RunbookID,
		RunbookVersion: c.RunbookVersion,
		Mode:           c.Mode,
		Alert:          c.Alert,
		StartedAt:      c.StartedAt,
		CurrentStep:    c.CurrentStep,
		CompletedSteps: c.CompletedSteps,
		Variables:      c.variables,
		State:          c.State,
		Error:          c.Error,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal context snapshot: %w", err)
	}
	return data, nil
}

// RestoreContext parses and validates a previously serialized snapshot.
// Unknown states or modes are rejected.
func RestoreContext(data []byte) (*ExecutionContext, error) {
	var snap contextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal context snapshot: %w", err)
	}
	if !snap.State.IsValid() {
		return nil, fmt.Errorf("restore context: unknown state %q", snap.State)
	}
	if !snap.Mode.IsValid() {
		return nil, fmt.Errorf("restore context: unknown mode %q", snap.Mode)
	}
	if snap.ExecutionID == "" {
		return nil, fmt.Errorf("restore context: missing execution_id")
	}

	variables := snap.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	if _, ok := variables["steps"].(map[string]any); !ok {
		variables["steps"] = map[string]any{}
	}

	return &ExecutionContext{
		ExecutionID:    snap.ExecutionID,
		RunbookID:      snap.RunbookID,
		RunbookVersion: snap.RunbookVersion,
		Mode:           snap.Mode,
		Alert:          snap.Alert,
		StartedAt:      snap.StartedAt,
		CurrentStep:    snap.CurrentStep,
		CompletedSteps: snap.CompletedSteps,
		State:          snap.State,
		Error:          snap.Error,
		variables:      variables,
	}, nil
}
