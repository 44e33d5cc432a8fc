package engine

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Lifecycle events.
const (
	eventStart   = "START"
	eventSucceed = "SUCCEED"
	eventFail    = "FAIL"
	eventBlock   = "BLOCK"
	eventRestore = "RESTORE"
)

const lifecycleMachineID = "step-lifecycle"

// Lifecycle state IDs, kept untyped for the statekit builder.
const (
	statePending   = "pending"
	stateRunning   = "running"
	stateSucceeded = "succeeded"
	stateFailed    = "failed"
	stateBlocked   = "blocked"
)

type lifecycleContext struct {
	StepID string
}

// stepLifecycle enforces the per-run transitions of one step:
// pending -> running -> succeeded | failed, pending -> blocked, and
// pending -> succeeded for steps restored from persisted state. The
// terminal states accept no further events within a run.
type stepLifecycle struct {
	stepID string
	interp *statekit.Interpreter[lifecycleContext]
}

func newStepLifecycle(stepID string) (*stepLifecycle, error) {
	machine, err := statekit.NewMachine[lifecycleContext](lifecycleMachineID).
		WithInitial(statePending).
		WithContext(lifecycleContext{StepID: stepID}).
		State(statePending).
		On(eventStart).Target(stateRunning).
		On(eventBlock).Target(stateBlocked).
		On(eventRestore).Target(stateSucceeded).Done().
		State(stateRunning).
		On(eventSucceed).Target(stateSucceeded).
		On(eventFail).Target(stateFailed).Done().
		State(stateSucceeded).Final().Done().
		State(stateFailed).Final().Done().
		State(stateBlocked).Final().Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle for step %s: %w", stepID, err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()

	return &stepLifecycle{stepID: stepID, interp: interp}, nil
}

// Status returns the current lifecycle status.
func (l *stepLifecycle) Status() StepStatus {
	return StepStatus(l.interp.State().Value)
}

// fire sends event and verifies the machine moved to want. A rejected
// event leaves the machine where it was and returns ErrInvalidTransition.
func (l *stepLifecycle) fire(event string, want StepStatus) (StepStatus, error) {
	from := l.Status()
	l.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	if got := l.Status(); got != want {
		return from, &EngineError{
			Category: CategoryUnknown,
			Code:     CodeInvalidTransition,
			Message:  fmt.Sprintf("cannot move step from %s to %s", from, want),
			StepID:   l.stepID,
		}
	}
	return from, nil
}

func (l *stepLifecycle) stop() {
	l.interp.Stop()
}
