package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// memStore is an in-memory StateStore.
type memStore struct {
	mu      sync.Mutex
	states  map[string]StepState
	saves   []StepState
	locked  bool
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]StepState)}
}

func (m *memStore) Load(_ context.Context) (map[string]StepState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]StepState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, stepID string, state StepState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[stepID] = state
	m.saves = append(m.saves, state)
	return nil
}

func (m *memStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]StepState)
	return nil
}

func (m *memStore) Lock(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return ErrSetupInProgress
	}
	m.locked = true
	return nil
}

func (m *memStore) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}

func (m *memStore) get(stepID string) (StepState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[stepID]
	return s, ok
}

// scriptedAdapter returns queued errors per action kind, then succeeds.
type scriptedAdapter struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
	order   []string
	hook    func(ctx context.Context, action Action) (*Outcome, error)
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		scripts: make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (a *scriptedAdapter) failWith(kind string, errs ...error) *scriptedAdapter {
	a.scripts[kind] = append(a.scripts[kind], errs...)
	return a
}

func (a *scriptedAdapter) Invoke(ctx context.Context, action Action) (*Outcome, error) {
	a.mu.Lock()
	a.calls[action.Kind]++
	a.order = append(a.order, action.Kind)
	var err error
	if queue := a.scripts[action.Kind]; len(queue) > 0 {
		err = queue[0]
		a.scripts[action.Kind] = queue[1:]
	}
	hook := a.hook
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hook != nil {
		return hook(ctx, action)
	}
	return &Outcome{Output: map[string]interface{}{"kind": action.Kind}}, nil
}

func (a *scriptedAdapter) callCount(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[kind]
}

// stubValidator returns a fixed pre-flight result and per-step condition
// failures.
type stubValidator struct {
	preflight  *ValidationResult
	conditions map[string]*ErrorRecord
	checked    []string
}

func (v *stubValidator) Preflight(_ context.Context) *ValidationResult {
	if v.preflight == nil {
		return NewValidationResult()
	}
	return v.preflight
}

func (v *stubValidator) CheckCondition(_ context.Context, stepID string, phase ConditionPhase, _ *Condition) *ErrorRecord {
	key := stepID + "/" + string(phase)
	v.checked = append(v.checked, key)
	return v.conditions[key]
}

// recordingSleep captures backoff delays without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:443: connection refused")

func step(id string, deps ...string) Step {
	return Step{
		ID:          id,
		Description: "step " + id,
		DependsOn:   deps,
		Action:      Action{Kind: "test." + id},
	}
}

func newTestOrchestrator(adapter ServiceAdapter, store StateStore, validator Validator, opts ...Option) (*Orchestrator, *recordingSleep) {
	rs := &recordingSleep{}
	base := []Option{
		WithSleepFunc(rs.sleep),
		WithTelemetry(telemetry.Nop()),
		WithRetryPolicy(NewRetryPolicy(WithBaseDelay(10 * time.Millisecond))),
	}
	return NewOrchestrator(adapter, store, validator, append(base, opts...)...), rs
}
