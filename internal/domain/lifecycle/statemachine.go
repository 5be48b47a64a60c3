// Package lifecycle implements the Run Lifecycle state machine and Janitor
// (spec §4.6): the status transition table, crash-recovery checks before
// resuming a run left RUNNING by a dead process, and start-up routing
// between "create new run" and "resume existing run".
package lifecycle

import (
	"fmt"

	"github.com/deltaengine/delta/internal/domain/entity"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// transitions enumerates every legal (from, to) pair in the status machine.
// Absent entries are illegal transitions.
var transitions = map[entity.RunStatus]map[entity.RunStatus]bool{
	entity.StatusRunning: {
		entity.StatusCompleted:       true,
		entity.StatusFailed:          true,
		entity.StatusWaitingForInput: true,
		entity.StatusInterrupted:     true,
	},
	entity.StatusWaitingForInput: {
		entity.StatusRunning: true,
	},
	entity.StatusInterrupted: {
		entity.StatusRunning: true,
	},
}

// StateMachine enforces the status transition table for one run. It holds
// no I/O; callers persist the resulting status to metadata.json themselves
// (journal.UpdateMetadata).
type StateMachine struct {
	current entity.RunStatus
}

// New returns a StateMachine seeded at the given status (normally read from
// metadata.json at process start, or StatusRunning for a brand-new run).
func New(initial entity.RunStatus) *StateMachine {
	return &StateMachine{current: initial}
}

// Current returns the machine's current status.
func (m *StateMachine) Current() entity.RunStatus {
	return m.current
}

// Transition moves the machine to to, or returns a CONSISTENCY AppError if
// the transition is not in the table.
func (m *StateMachine) Transition(to entity.RunStatus) error {
	if m.current.IsTerminal() {
		return apperr.NewConsistencyError(
			fmt.Sprintf("cannot transition out of terminal status %s", m.current))
	}
	allowed, ok := transitions[m.current]
	if !ok || !allowed[to] {
		return apperr.NewConsistencyError(
			fmt.Sprintf("illegal status transition %s -> %s", m.current, to))
	}
	m.current = to
	return nil
}
