package runbook

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/opsgate/opsgate/pkg/actions"
	"github.com/opsgate/opsgate/pkg/models"
)

// Validator checks a parsed runbook before it enters the registry:
// struct-tag field validation first, then the structural invariants the
// tags cannot express.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a runbook validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns the first violated invariant, or nil.
func (v *Validator) Validate(rb *models.Runbook) error {
	if rb == nil {
		return fmt.Errorf("runbook is nil")
	}
	if err := v.validate.Struct(rb); err != nil {
		return fmt.Errorf("runbook %s: %w", rb.ID, err)
	}
	if !rb.Config.AutomationLevel.IsValid() {
		return fmt.Errorf("runbook %s: unknown automation level %q", rb.ID, rb.Config.AutomationLevel)
	}
	return v.validateSteps(rb)
}

func (v *Validator) validateSteps(rb *models.Runbook) error {
	ids := make(map[string]struct{}, len(rb.Steps))
	for _, step := range rb.Steps {
		if _, dup := ids[step.ID]; dup {
			return fmt.Errorf("runbook %s: duplicate step id %q", rb.ID, step.ID)
		}
		ids[step.ID] = struct{}{}
	}

	for _, step := range rb.Steps {
		if !actions.IsKnown(step.Action) {
			return fmt.Errorf("runbook %s: step %q uses unknown action %q", rb.ID, step.ID, step.Action)
		}
		if step.OnError != "" && !step.OnError.IsValid() {
			return fmt.Errorf("runbook %s: step %q has unknown on_error policy %q", rb.ID, step.ID, step.OnError)
		}
		if step.Timeout <= 0 {
			return fmt.Errorf("runbook %s: step %q needs a positive timeout", rb.ID, step.ID)
		}
		for _, dep := range step.DependsOn {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("runbook %s: step %q depends on unknown step %q", rb.ID, step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("runbook %s: step %q depends on itself", rb.ID, step.ID)
			}
		}
		if step.Rollback != nil && !actions.IsKnown(step.Rollback.Action) {
			return fmt.Errorf("runbook %s: step %q declares unknown rollback action %q", rb.ID, step.ID, step.Rollback.Action)
		}
	}

	return checkAcyclic(rb)
}

// checkAcyclic rejects dependency cycles with a Kahn pass.
func checkAcyclic(rb *models.Runbook) error {
	indegree := make(map[string]int, len(rb.Steps))
	dependents := make(map[string][]string, len(rb.Steps))
	for _, step := range rb.Steps {
		indegree[step.ID] += 0
		for _, dep := range step.DependsOn {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	visited := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(rb.Steps) {
		return fmt.Errorf("runbook %s: dependency cycle among steps", rb.ID)
	}
	return nil
}
