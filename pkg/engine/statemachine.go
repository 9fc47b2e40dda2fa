package engine

import (
	"fmt"

	"github.com/opsgate/opsgate/pkg/models"
)

// validTransitions is the execution state graph. Any transition outside it
// is a programming error and is rejected with EXEC_STATE_INVALID.
var validTransitions = map[models.ExecutionState][]models.ExecutionState{
	models.StateIdle:       {models.StateValidating},
	models.StateValidating: {models.StatePlanning, models.StateFailed},
	models.StatePlanning:   {models.StateExecuting, models.StateAwaitingApproval, models.StateFailed},
	models.StateAwaitingApproval: {
		models.StateExecuting, models.StateFailed, models.StateCancelled,
	},
	models.StateExecuting: {
		models.StateRollingBack, models.StateCompleted, models.StateFailed,
		models.StateCancelled, models.StateAwaitingApproval,
	},
	models.StateRollingBack: {models.StateCompleted, models.StateFailed},
}

// CanTransition reports whether from → to is on the allowed graph.
func CanTransition(from, to models.ExecutionState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves the context to a new state, enforcing the graph.
func transition(ctx *ExecutionContext, to models.ExecutionState) error {
	if !CanTransition(ctx.State, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, ctx.State, to, CodeExecStateInvalid)
	}
	ctx.SetState(to)
	return nil
}
