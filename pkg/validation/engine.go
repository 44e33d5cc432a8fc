package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// Severity is the outcome of one finding.
type Severity string

const (
	SeverityPass Severity = "pass"
	SeverityFail Severity = "fail"
	SeverityWarn Severity = "warn"
)

// Finding is one result reported by a check.
type Finding struct {
	Check       string   `json:"check"`
	Severity    Severity `json:"severity"`
	Field       string   `json:"field,omitempty"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`
}

// Pass reports a passing check.
func Pass(check, message string) Finding {
	return Finding{Check: check, Severity: SeverityPass, Message: message}
}

// Fail reports an error attributed to field.
func Fail(check, field, message, remediation string) Finding {
	return Finding{Check: check, Severity: SeverityFail, Field: field, Message: message, Remediation: remediation}
}

// Warn reports a warning. Warnings never affect validity.
func Warn(check, message string) Finding {
	return Finding{Check: check, Severity: SeverityWarn, Message: message}
}

// Check is one named pre-flight check.
type Check interface {
	Name() string
	Run(ctx context.Context) []Finding
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) []Finding
}

func (c checkFunc) Name() string { return c.name }

func (c checkFunc) Run(ctx context.Context) []Finding { return c.fn(ctx) }

// NewCheck wraps a function as a Check.
func NewCheck(name string, fn func(ctx context.Context) []Finding) Check {
	return checkFunc{name: name, fn: fn}
}

// DefaultConditionTimeout bounds a condition's adapter call and expression.
const DefaultConditionTimeout = 30 * time.Second

// Engine runs pre-flight checks and step conditions. It implements
// engine.Validator.
type Engine struct {
	checks     []Check
	adapter    engine.ServiceAdapter
	classifier engine.Classifier
	expr       *ExprEvaluator
	timeout    time.Duration
	lookPath   LookPathFunc
	listen     ListenFunc
	now        func() time.Time
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithChecks appends pre-flight checks, run in the given order.
func WithChecks(checks ...Check) Option {
	return func(e *Engine) { e.checks = append(e.checks, checks...) }
}

// WithTelemetry attaches logging and metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) { e.tel = tel }
}

// WithClassifier sets the classifier used for failed condition calls.
func WithClassifier(c engine.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithConditionTimeout bounds each condition check.
func WithConditionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLookPath replaces exec.LookPath for the prerequisites check.
func WithLookPath(fn LookPathFunc) Option {
	return func(e *Engine) { e.lookPath = fn }
}

// WithListen replaces net.Listen for the ports check.
func WithListen(fn ListenFunc) Option {
	return func(e *Engine) { e.listen = fn }
}

// WithClock sets the time used to judge certificate expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a validation engine. The adapter serves condition actions.
func New(adapter engine.ServiceAdapter, opts ...Option) *Engine {
	e := &Engine{
		adapter:    adapter,
		classifier: engine.NewClassifier(nil),
		timeout:    DefaultConditionTimeout,
		tel:        telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.expr = NewExprEvaluator(e.timeout)
	e.logger = e.tel.Logger.NewComponentLogger("validation")
	return e
}

// Checks returns the names of the registered checks in run order.
func (e *Engine) Checks() []string {
	names := make([]string, len(e.checks))
	for i, c := range e.checks {
		names[i] = c.Name()
	}
	return names
}

// Preflight runs every check once, in order, and aggregates the findings.
// The result is valid iff no check reported a failure.
func (e *Engine) Preflight(ctx context.Context) *engine.ValidationResult {
	result := engine.NewValidationResult()

	for _, check := range e.checks {
		start := time.Now()
		findings := check.Run(ctx)

		failed := 0
		for _, f := range findings {
			e.tel.Metrics.RecordPreflightFinding(check.Name(), string(f.Severity))
			switch f.Severity {
			case SeverityFail:
				failed++
				result.AddError(f.Field, f.Message, f.Remediation)
			case SeverityWarn:
				result.AddWarning(f.Message)
			default:
				e.logger.WithField("check", check.Name()).Debug(f.Message)
			}
		}

		e.logger.WithFields(map[string]interface{}{
			"check":    check.Name(),
			"findings": len(findings),
			"failed":   failed,
			"duration": time.Since(start).String(),
		}).Info("pre-flight check finished")
	}

	return result
}

// CheckCondition invokes the condition's read-only action and evaluates
// its Expect expression against the output. It returns nil when the
// condition holds.
func (e *Engine) CheckCondition(ctx context.Context, stepID string, phase engine.ConditionPhase, cond *engine.Condition) *engine.ErrorRecord {
	if cond == nil {
		return nil
	}
	field := fmt.Sprintf("%s.%s", stepID, phase)
	logger := e.logger.WithStep(stepID).WithField("phase", string(phase))

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outcome, err := e.adapter.Invoke(callCtx, cond.Action)
	if err != nil {
		rec := e.classifier.Classify(err)
		rec.Message = fmt.Sprintf("%s: %s check failed: %s", field, cond.Action.Kind, rec.Message)
		logger.WithError(err).Warn("condition check call failed")
		return rec
	}

	if cond.Expect == "" {
		return nil
	}

	var output map[string]interface{}
	if outcome != nil {
		output = outcome.Output
	}

	ok, err := e.expr.EvalBool(callCtx, cond.Expect, output)
	if err != nil {
		return &engine.ErrorRecord{
			Category:    engine.CategoryConfiguration,
			Code:        engine.CodeCondition,
			Message:     fmt.Sprintf("%s: invalid expectation %q: %v", field, cond.Expect, err),
			Remediation: "Fix the expect expression of the step condition",
		}
	}
	if ok {
		logger.Debug("condition holds")
		return nil
	}

	what := cond.Description
	if what == "" {
		what = cond.Expect
	}

	rec := &engine.ErrorRecord{
		Code:    engine.CodeCondition,
		Message: fmt.Sprintf("%s: condition not met: %s", field, what),
	}
	if phase == engine.PhasePre {
		rec.Category = engine.CategoryConfiguration
		rec.Remediation = fmt.Sprintf("Make sure %s before running step %s", what, stepID)
	} else {
		rec.Category = engine.CategoryResource
		rec.Remediation = fmt.Sprintf("Step %s reported success but %s does not hold; inspect the resource and rerun with --resume", stepID, what)
	}
	logger.Warn(rec.Message)
	return rec
}
