package engine

import (
	"time"
)

// Action is one unit of external work, routed to an adapter by Kind.
type Action struct {
	// Kind is a dotted name such as "s3.create_bucket" or "shell.exec".
	Kind string `json:"kind" yaml:"kind" toml:"kind" validate:"required"`

	// Params are adapter-specific string parameters.
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
}

// Param returns the named parameter or the empty string.
func (a Action) Param(key string) string {
	if a.Params == nil {
		return ""
	}
	return a.Params[key]
}

// Outcome is the success payload of an adapter call.
type Outcome struct {
	Output map[string]interface{} `json:"output,omitempty"`
}

// Condition is a read-only check performed before or after a step.
type Condition struct {
	// Action is invoked through the adapter and must not mutate anything.
	Action Action `json:"action" yaml:"action" toml:"action"`

	// Expect is a boolean expression over `output`. Empty means the call
	// returning without error satisfies the condition.
	Expect string `json:"expect,omitempty" yaml:"expect,omitempty" toml:"expect,omitempty"`

	// Description is shown when the condition fails.
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// ConditionPhase distinguishes pre- from post-conditions.
type ConditionPhase string

const (
	PhasePre  ConditionPhase = "precondition"
	PhasePost ConditionPhase = "postcondition"
)

// Step is a named unit of setup work with declared dependencies.
type Step struct {
	ID          string   `json:"id" yaml:"id" toml:"id" validate:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" toml:"depends_on,omitempty"`

	// Idempotent steps may be re-run safely; a resource conflict on an
	// idempotent step counts as success.
	Idempotent bool `json:"idempotent,omitempty" yaml:"idempotent,omitempty" toml:"idempotent,omitempty"`

	Action        Action     `json:"action" yaml:"action" toml:"action"`
	Precondition  *Condition `json:"precondition,omitempty" yaml:"precondition,omitempty" toml:"precondition,omitempty"`
	Postcondition *Condition `json:"postcondition,omitempty" yaml:"postcondition,omitempty" toml:"postcondition,omitempty"`
}

// ErrorRecord is the persisted form of a classified failure.
type ErrorRecord struct {
	Category    Category `json:"category" yaml:"category"`
	Code        string   `json:"code,omitempty" yaml:"code,omitempty"`
	Message     string   `json:"message" yaml:"message"`
	Retryable   bool     `json:"retryable" yaml:"retryable"`
	Remediation string   `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// StepState is the current record of one step.
type StepState struct {
	StepID    string       `json:"step_id" yaml:"step_id"`
	Status    StepStatus   `json:"status" yaml:"status"`
	UpdatedAt time.Time    `json:"updated_at" yaml:"updated_at"`
	Attempts  int          `json:"attempts" yaml:"attempts"`
	Error     *ErrorRecord `json:"error,omitempty" yaml:"error,omitempty"`
}

// ValidationError is one failed check, attributed to a field or check name.
type ValidationError struct {
	Field       string `json:"field"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// ValidationResult aggregates the findings of a validation phase.
// Valid is true iff Errors is empty.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []string{},
	}
}

// AddError appends an error and marks the result invalid.
func (r *ValidationResult) AddError(field, message, remediation string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Remediation: remediation})
	r.Valid = false
}

// AddWarning appends a warning. Warnings never affect validity.
func (r *ValidationResult) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// Merge appends the findings of other in order.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		r.AddError(e.Field, e.Message, e.Remediation)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// RunOptions control one orchestrator run.
type RunOptions struct {
	// Resume loads persisted state and skips Succeeded steps.
	Resume bool

	// Force continues past pre-flight failures, failed dependencies and
	// non-retryable failures, recording warnings.
	Force bool

	// ValidateOnly stops after pre-flight.
	ValidateOnly bool
}

// SetupResult is the outcome of a run.
type SetupResult struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`

	// Steps are in execution order.
	Steps []StepState `json:"steps"`

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`

	// Skipped counts steps restored as Succeeded from a previous run;
	// they are included in Succeeded.
	Skipped int `json:"skipped"`

	Preflight *ValidationResult   `json:"preflight,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
	Report    *VerificationReport `json:"report,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Step returns the state of the named step, if it was part of the run.
func (r *SetupResult) Step(id string) (StepState, bool) {
	for _, s := range r.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return StepState{}, false
}
