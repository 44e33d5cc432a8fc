package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// DefaultStepTimeout bounds a single adapter invocation.
const DefaultStepTimeout = 5 * time.Minute

// Orchestrator walks a step DAG sequentially, consulting the validator,
// adapter, classifier, retry policy and state store.
type Orchestrator struct {
	adapter     ServiceAdapter
	store       StateStore
	validator   Validator
	classifier  Classifier
	policy      RetryPolicy
	stepTimeout time.Duration
	sleep       SleepFunc
	now         func() time.Time
	tel         *telemetry.Telemetry
	logger      *telemetry.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithStepTimeout bounds each adapter invocation.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithSleepFunc replaces the backoff sleeper.
func WithSleepFunc(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTelemetry attaches logging, tracing, metrics and progress events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.tel = tel }
}

// NewOrchestrator creates an orchestrator. The validator may be nil, in
// which case pre-flight passes and conditions are not checked.
func NewOrchestrator(adapter ServiceAdapter, store StateStore, validator Validator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:     adapter,
		store:       store,
		validator:   validator,
		classifier:  NewClassifier(nil),
		policy:      DefaultRetryPolicy(),
		stepTimeout: DefaultStepTimeout,
		sleep:       Sleep,
		now:         func() time.Time { return time.Now().UTC() },
		tel:         telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.tel.Logger.NewComponentLogger("orchestrator")
	return o
}

// run is the in-memory state of one Run call.
type run struct {
	id        string
	opts      RunOptions
	logger    *telemetry.Logger
	states    map[string]*StepState
	persisted map[string]StepState
	result    *SetupResult
	halt      *ErrorRecord
}

// Run executes steps in dependency order and returns the result.
//
// The returned error is non-nil when the run could not proceed: invalid
// DAG, held lock, failed pre-flight, unpersistable state or cancellation.
// Step failures are reported in the result, not as an error.
func (o *Orchestrator) Run(ctx context.Context, steps []Step, opts RunOptions) (*SetupResult, error) {
	ordered, err := NewDAGBuilder().Build(steps)
	if err != nil {
		return nil, err
	}
	if err := o.policy.Validate(); err != nil {
		return nil, NewConfigurationError("invalid retry policy", err).WithCode(CodeValidation)
	}

	if err := o.store.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.store.Unlock(); err != nil {
			o.logger.WithError(err).Warn("failed to release state lock")
		}
	}()

	r := &run{
		id:     uuid.New().String(),
		opts:   opts,
		states: make(map[string]*StepState, len(ordered)),
		result: &SetupResult{
			Steps:     make([]StepState, 0, len(ordered)),
			StartedAt: o.now(),
		},
	}
	r.result.RunID = r.id
	r.logger = o.logger.WithRunID(r.id)

	ctx, span := o.tel.Tracer.StartRunSpan(ctx, r.id, opts.Resume)
	defer span.End()

	o.publish(o.tel.Events.PublishRunStarted(r.id, len(ordered), opts.Resume))
	r.logger.Infof("setup run started with %d steps", len(ordered))

	if !o.preflight(ctx, r) {
		o.finish(r, span)
		return r.result, fmt.Errorf("run %s: %w", r.id, ErrPreflightFailed)
	}
	if opts.ValidateOnly {
		o.finish(r, span)
		return r.result, nil
	}

	if opts.Resume {
		persisted, err := o.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
		r.persisted = persisted
	} else if err := o.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset state: %w", err)
	}

	var runErr error
	for _, step := range ordered {
		if r.halt == nil && ctx.Err() != nil {
			r.halt = cancelledRecord("not attempted: run cancelled")
			runErr = ctx.Err()
		}
		if r.halt != nil {
			if _, err := o.blockUnvisited(ctx, r, step); err != nil {
				runErr = errors.Join(runErr, err)
			}
			continue
		}

		state, err := o.runStep(ctx, r, step)
		if err != nil {
			runErr = err
			r.halt = &ErrorRecord{
				Category:    CategoryUnknown,
				Code:        CodeStateCorrupt,
				Message:     fmt.Sprintf("not attempted: state of step %s could not be recorded", step.ID),
				Remediation: "Check the run directory is writable, then rerun with --resume",
			}
			continue
		}

		switch {
		case state.Status != StepFailed || state.Error == nil:
		case state.Error.Code == CodeCancelled:
			r.halt = cancelledRecord("not attempted: run cancelled")
			runErr = ctx.Err()
		case !state.Error.Retryable && !opts.Force:
			r.halt = &ErrorRecord{
				Category:    state.Error.Category,
				Code:        CodeHalted,
				Message:     fmt.Sprintf("not attempted: run halted after step %s failed", step.ID),
				Remediation: fmt.Sprintf("Resolve the failure of step %s, then rerun with --resume", step.ID),
			}
			r.logger.WithStep(step.ID).Error("non-retryable failure; halting run")
		}
	}

	o.finish(r, span)
	return r.result, runErr
}

func (o *Orchestrator) preflight(ctx context.Context, r *run) bool {
	if o.validator == nil {
		return true
	}

	ctx, span := o.tel.Tracer.StartPreflightSpan(ctx)
	defer span.End()

	res := o.validator.Preflight(ctx)
	if res == nil {
		res = NewValidationResult()
	}
	r.result.Preflight = res

	for _, e := range res.Errors {
		r.logger.WithField("field", e.Field).Warn(e.Message)
	}

	o.publish(o.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypePreflightComplete,
		Source:  "validation",
		RunID:   r.id,
		Message: fmt.Sprintf("pre-flight finished with %d errors and %d warnings", len(res.Errors), len(res.Warnings)),
		Data: map[string]interface{}{
			"valid":    res.Valid,
			"errors":   len(res.Errors),
			"warnings": len(res.Warnings),
		},
	}))

	if res.Valid {
		telemetry.RecordSuccess(span)
		return true
	}
	telemetry.RecordError(span, ErrPreflightFailed)

	if !r.opts.Force {
		return false
	}
	for _, e := range res.Errors {
		o.warn(r, "", fmt.Sprintf("pre-flight %s: %s (ignored by --force)", e.Field, e.Message))
	}
	return true
}

func (o *Orchestrator) runStep(ctx context.Context, r *run, step Step) (StepState, error) {
	lc, err := newStepLifecycle(step.ID)
	if err != nil {
		return StepState{}, err
	}
	defer lc.stop()

	ctx, span := o.tel.Tracer.StartStepSpan(ctx, step.ID, step.Action.Kind)
	defer span.End()

	logger := r.logger.WithStep(step.ID)
	prior, hasPrior := r.persisted[step.ID]

	if r.opts.Resume && hasPrior && prior.Status == StepSucceeded {
		r.result.Skipped++
		return o.restore(ctx, r, lc, step, prior, false, "already succeeded in a previous run")
	}

	if blocker := r.blockingDependency(step); blocker != nil {
		if !r.opts.Force {
			return o.block(r, lc, step, blockedBy(blocker))
		}
		o.warn(r, step.ID, fmt.Sprintf("step %s attempted although dependency %s is %s (--force)",
			step.ID, blocker.StepID, blocker.Status))
	}

	if r.opts.Resume && hasPrior && prior.Status == StepRunning {
		if step.Postcondition != nil && o.validator != nil {
			if rec := o.validator.CheckCondition(ctx, step.ID, PhasePost, step.Postcondition); rec == nil {
				prior.Error = nil
				return o.restore(ctx, r, lc, step, prior, true, "interrupted attempt completed; post-condition holds")
			}
		}
		logger.Warn("previous attempt ended with unknown outcome; re-attempting")
	}

	if step.Precondition != nil && o.validator != nil {
		if rec := o.validator.CheckCondition(ctx, step.ID, PhasePre, step.Precondition); rec != nil {
			return o.block(r, lc, step, rec)
		}
	}

	state, err := o.execute(ctx, r, lc, step)
	if state.Error != nil {
		span.SetAttributes(telemetry.AttrErrorCategory.String(string(state.Error.Category)))
	}
	span.SetAttributes(telemetry.AttrStepStatus.String(string(state.Status)))
	return state, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run, lc *stepLifecycle, step Step) (StepState, error) {
	logger := r.logger.WithStep(step.ID)
	ctx = logger.WithContext(ctx)
	started := o.now()
	state := StepState{StepID: step.ID}

	from, err := lc.fire(eventStart, StepRunning)
	if err != nil {
		return state, err
	}

	for attempt := 1; ; attempt++ {
		state.Status = StepRunning
		state.Attempts = attempt
		state.UpdatedAt = o.now()
		if err := o.store.Save(ctx, step.ID, state); err != nil {
			return state, fmt.Errorf("failed to persist step %s: %w", step.ID, err)
		}
		if attempt == 1 {
			o.transition(r, step.ID, from, StepRunning, attempt, nil, step.Description)
		}

		outcome, invokeErr := o.invoke(ctx, step, attempt)
		o.tel.Metrics.RecordAttempt(step.ID, invokeErr == nil)
		if invokeErr == nil {
			state.Error = nil
			if outcome != nil && len(outcome.Output) > 0 {
				logger.WithField("output", outcome.Output).Debug("action completed")
			}
			break
		}

		rec := o.classifier.Classify(invokeErr)
		o.tel.Metrics.RecordError(string(rec.Category), rec.Retryable)

		if rec.Category == CategoryResource && step.Idempotent {
			logger.WithField("code", rec.Code).Info("resource already present; idempotent step counts as succeeded")
			state.Error = nil
			break
		}
		state.Error = rec

		if !o.policy.ShouldRetry(rec, attempt) {
			logger.WithError(invokeErr).Warnf("attempt %d failed (%s), not retrying", attempt, rec.Category)
			return o.complete(ctx, r, lc, step, state, StepFailed, started)
		}

		delay := o.policy.JitteredDelay(attempt)
		o.tel.Metrics.RecordRetry(step.ID, string(rec.Category))
		o.publish(o.tel.Events.Publish(telemetry.Event{
			Type:    telemetry.EventTypeStepRetry,
			Source:  "orchestrator",
			RunID:   r.id,
			StepID:  step.ID,
			Attempt: attempt,
			Message: fmt.Sprintf("attempt %d/%d failed (%s): retrying in %s", attempt, o.policy.MaxAttempts, rec.Category, delay),
			Level:   telemetry.EventLevelWarning,
			Data:    map[string]interface{}{"delay": delay.Seconds(), "category": string(rec.Category)},
		}))
		logger.WithError(invokeErr).Debugf("attempt %d failed (%s), retrying in %s", attempt, rec.Category, delay)

		if ctx.Err() != nil {
			state.Error = cancelledRecord(fmt.Sprintf("cancelled after attempt %d", attempt))
			return o.complete(ctx, r, lc, step, state, StepFailed, started)
		}
		if err := o.sleep(ctx, delay); err != nil {
			state.Error = cancelledRecord(fmt.Sprintf("cancelled while waiting to retry after attempt %d", attempt))
			return o.complete(ctx, r, lc, step, state, StepFailed, started)
		}
	}

	if step.Postcondition != nil && o.validator != nil {
		if rec := o.validator.CheckCondition(ctx, step.ID, PhasePost, step.Postcondition); rec != nil {
			state.Error = rec
			return o.complete(ctx, r, lc, step, state, StepFailed, started)
		}
	}

	return o.complete(ctx, r, lc, step, state, StepSucceeded, started)
}

// invoke performs one bounded adapter call. The call runs detached from
// ctx cancellation; only the step timeout interrupts it.
func (o *Orchestrator) invoke(ctx context.Context, step Step, attempt int) (*Outcome, error) {
	ctx, span := o.tel.Tracer.StartAttemptSpan(ctx, step.ID, attempt)
	defer span.End()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stepTimeout)
	defer cancel()

	type result struct {
		outcome *Outcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: NewError(CategoryUnknown, fmt.Sprintf("adapter panicked: %v", p), nil).
					WithCode(CodePanic).WithStep(step.ID).WithOperation(step.Action.Kind)}
			}
		}()
		outcome, err := o.adapter.Invoke(callCtx, step.Action)
		done <- result{outcome: outcome, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: callCtx.Err()}
	}

	if res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.err = NewNetworkError(fmt.Sprintf("step timed out after %s", o.stepTimeout), res.err).
			WithCode(CodeTimeout).WithStep(step.ID).WithOperation(step.Action.Kind).
			WithRemediation("The call exceeded step_timeout; check connectivity or raise step_timeout")
	}

	if res.err != nil {
		telemetry.RecordError(span, res.err)
		return nil, res.err
	}
	telemetry.RecordSuccess(span)
	if res.outcome == nil {
		res.outcome = &Outcome{}
	}
	return res.outcome, nil
}

// complete moves a running step to its terminal status, persists it and
// emits the transition.
func (o *Orchestrator) complete(
	ctx context.Context,
	r *run,
	lc *stepLifecycle,
	step Step,
	state StepState,
	status StepStatus,
	started time.Time,
) (StepState, error) {
	event := eventSucceed
	if status == StepFailed {
		event = eventFail
	}
	from, err := lc.fire(event, status)
	if err != nil {
		return state, err
	}

	state.Status = status
	state.UpdatedAt = o.now()
	if err := o.store.Save(ctx, step.ID, state); err != nil {
		return state, fmt.Errorf("failed to persist step %s: %w", step.ID, err)
	}

	r.record(state)
	msg := ""
	if state.Error != nil {
		msg = state.Error.Message
	}
	o.transition(r, step.ID, from, status, state.Attempts, state.Error, msg)
	o.tel.Metrics.RecordStepFinished(step.ID, string(status), o.now().Sub(started))
	return state, nil
}

// restore marks a step Succeeded without executing it. Recovered steps
// (interrupted attempts whose post-condition holds) are persisted again.
func (o *Orchestrator) restore(
	ctx context.Context,
	r *run,
	lc *stepLifecycle,
	step Step,
	state StepState,
	persist bool,
	reason string,
) (StepState, error) {
	from, err := lc.fire(eventRestore, StepSucceeded)
	if err != nil {
		return state, err
	}

	state.StepID = step.ID
	state.Status = StepSucceeded
	if persist {
		state.UpdatedAt = o.now()
		if err := o.store.Save(ctx, step.ID, state); err != nil {
			return state, fmt.Errorf("failed to persist step %s: %w", step.ID, err)
		}
	}

	r.record(state)
	o.transition(r, step.ID, from, StepSucceeded, state.Attempts, nil, reason)
	return state, nil
}

// block marks a step Blocked. Blocked is derived and never persisted.
func (o *Orchestrator) block(r *run, lc *stepLifecycle, step Step, rec *ErrorRecord) (StepState, error) {
	from, err := lc.fire(eventBlock, StepBlocked)
	if err != nil {
		return StepState{StepID: step.ID}, err
	}

	state := StepState{
		StepID:    step.ID,
		Status:    StepBlocked,
		UpdatedAt: o.now(),
		Error:     rec,
	}
	r.record(state)
	o.transition(r, step.ID, from, StepBlocked, 0, rec, rec.Message)
	return state, nil
}

// blockUnvisited settles a step the halted run never reached. A step that
// succeeded in a previous run keeps that status on resume.
func (o *Orchestrator) blockUnvisited(ctx context.Context, r *run, step Step) (StepState, error) {
	lc, err := newStepLifecycle(step.ID)
	if err != nil {
		return StepState{}, err
	}
	defer lc.stop()

	if prior, ok := r.persisted[step.ID]; ok && r.opts.Resume && prior.Status == StepSucceeded {
		r.result.Skipped++
		return o.restore(ctx, r, lc, step, prior, false, "already succeeded in a previous run")
	}

	rec := *r.halt
	return o.block(r, lc, step, &rec)
}

func (o *Orchestrator) transition(r *run, stepID string, from, to StepStatus, attempt int, rec *ErrorRecord, message string) {
	category := ""
	if rec != nil && to != StepSucceeded {
		category = string(rec.Category)
	}
	o.tel.Metrics.RecordTransition(string(to))
	o.publish(o.tel.Events.PublishStepTransition(r.id, stepID, string(from), string(to), attempt, category, message))
	r.logger.WithStep(stepID).Debugf("%s -> %s", from, to)
}

func (o *Orchestrator) warn(r *run, stepID, message string) {
	r.result.Warnings = append(r.result.Warnings, message)
	o.publish(o.tel.Events.PublishWarning(r.id, stepID, message))
	r.logger.Warn(message)
}

func (o *Orchestrator) publish(err error) {
	if err != nil {
		o.logger.WithError(err).Debug("progress event not delivered")
	}
}

func (o *Orchestrator) finish(r *run, span trace.Span) {
	res := r.result
	for _, s := range res.Steps {
		switch s.Status {
		case StepSucceeded:
			res.Succeeded++
		case StepFailed:
			res.Failed++
		case StepBlocked:
			res.Blocked++
		}
	}

	preflightOK := res.Preflight == nil || res.Preflight.Valid || r.opts.Force
	res.Success = preflightOK && res.Failed == 0 && res.Blocked == 0
	res.Duration = o.now().Sub(res.StartedAt)
	res.Report = BuildReport(res)

	status := string(res.Report.Status)
	if res.Success {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("run finished with status %s", status))
	}
	o.tel.Metrics.RecordRunCompleted(status, res.Duration)
	o.publish(o.tel.Events.PublishRunCompleted(r.id, status, res.Duration))
	r.logger.Infof("setup run finished: %d succeeded, %d failed, %d blocked", res.Succeeded, res.Failed, res.Blocked)
}

func (r *run) record(state StepState) {
	s := state
	r.states[state.StepID] = &s
	r.result.Steps = append(r.result.Steps, state)
}

// blockingDependency returns the first direct dependency that Failed or
// is Blocked.
func (r *run) blockingDependency(step Step) *StepState {
	for _, dep := range step.DependsOn {
		st, ok := r.states[dep]
		if !ok {
			continue
		}
		if st.Status == StepFailed || st.Status == StepBlocked {
			return st
		}
	}
	return nil
}

func blockedBy(dep *StepState) *ErrorRecord {
	rec := &ErrorRecord{
		Category:    CategoryUnknown,
		Code:        CodeDependencyFailed,
		Message:     fmt.Sprintf("dependency %s is %s", dep.StepID, dep.Status),
		Remediation: fmt.Sprintf("Resolve the failure of step %s, then rerun with --resume", dep.StepID),
	}
	if dep.Error != nil {
		rec.Category = dep.Error.Category
		if dep.Status == StepBlocked && dep.Error.Remediation != "" {
			rec.Remediation = dep.Error.Remediation
		}
	}
	return rec
}

func cancelledRecord(message string) *ErrorRecord {
	return &ErrorRecord{
		Category:    CategoryUnknown,
		Code:        CodeCancelled,
		Message:     message,
		Retryable:   true,
		Remediation: "Rerun with --resume to continue from the last persisted step",
	}
}
