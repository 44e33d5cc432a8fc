package engine

import (
	"context"
)

// ServiceAdapter performs external work on behalf of steps.
// Implementations return raw errors; classification happens once, in the
// Classifier.
type ServiceAdapter interface {
	// Invoke performs the action and returns its payload or a raw error.
	Invoke(ctx context.Context, action Action) (*Outcome, error)
}

// ServiceAdapterFunc adapts a function to the ServiceAdapter interface.
type ServiceAdapterFunc func(ctx context.Context, action Action) (*Outcome, error)

// Invoke calls f.
func (f ServiceAdapterFunc) Invoke(ctx context.Context, action Action) (*Outcome, error) {
	return f(ctx, action)
}

// StateStore is the durable, crash-safe record of per-step status.
// It is the only writer of persisted state.
type StateStore interface {
	// Load returns the persisted states keyed by step ID. A missing or
	// empty store yields an empty map.
	Load(ctx context.Context) (map[string]StepState, error)

	// Save atomically replaces the record of one step.
	Save(ctx context.Context, stepID string, state StepState) error

	// Reset atomically clears all records.
	Reset(ctx context.Context) error

	// Lock acquires the single-writer lock, failing fast with
	// ErrSetupInProgress when another process holds it.
	Lock(ctx context.Context) error

	// Unlock releases the lock.
	Unlock() error
}

// Validator runs pre-flight checks and per-step conditions.
type Validator interface {
	// Preflight runs every pre-flight check once and aggregates the findings.
	Preflight(ctx context.Context) *ValidationResult

	// CheckCondition verifies a step condition with read-only adapter
	// calls. It returns nil when the condition holds.
	CheckCondition(ctx context.Context, stepID string, phase ConditionPhase, cond *Condition) *ErrorRecord
}

// Classifier maps a raw adapter failure to an ErrorRecord. It must be
// total: every non-nil error yields a record.
type Classifier interface {
	Classify(err error) *ErrorRecord
}
