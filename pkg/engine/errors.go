package engine

import (
	"errors"
	"fmt"
)

// EngineError is a classified error carrying the remediation shown to
// the operator.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Category drives the retry decision.
	Category Category `json:"category"`

	// Code is the provider or engine error code, if known.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Remediation tells the operator how to fix the failure.
	Remediation string `json:"remediation,omitempty"`

	// StepID is the step that produced the error, if applicable.
	StepID string `json:"step_id,omitempty"`

	// Operation is the action kind or phase being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	switch {
	case e.StepID != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (step=%s, operation=%s)", e.Category, msg, e.StepID, e.Operation)
	case e.StepID != "":
		return fmt.Sprintf("[%s] %s (step=%s)", e.Category, msg, e.StepID)
	default:
		return fmt.Sprintf("[%s] %s", e.Category, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same category and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// Record converts the error into the persisted ErrorRecord form.
func (e *EngineError) Record() *ErrorRecord {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	remediation := e.Remediation
	if remediation == "" {
		remediation = e.Category.DefaultRemediation()
	}
	return &ErrorRecord{
		Category:    e.Category,
		Code:        e.Code,
		Message:     msg,
		Retryable:   e.Category.Retryable(),
		Remediation: remediation,
	}
}

// NewError creates a new classified error.
func NewError(category Category, message string, err error) *EngineError {
	return &EngineError{
		Category: category,
		Message:  message,
		Err:      err,
	}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return NewError(CategoryConfiguration, message, err)
}

// NewNetworkError creates a network error.
func NewNetworkError(message string, err error) *EngineError {
	return NewError(CategoryNetwork, message, err)
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithRemediation sets the remediation text.
func (e *EngineError) WithRemediation(remediation string) *EngineError {
	e.Remediation = remediation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CategoryOf returns the category of err, or CategoryUnknown when err
// carries no classification.
func CategoryOf(err error) Category {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryUnknown
}

// IsRetryable returns true if err is classified into a retryable category.
func IsRetryable(err error) bool {
	return CategoryOf(err).Retryable()
}

// Engine error codes.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeCycle             = "DEPENDENCY_CYCLE"
	CodeUnknownDependency = "UNKNOWN_DEPENDENCY"
	CodeDuplicateStep     = "DUPLICATE_STEP"
	CodeSetupInProgress   = "SETUP_IN_PROGRESS"
	CodePreflightFailed   = "PREFLIGHT_FAILED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTimeout           = "TIMEOUT"
	CodeCancelled         = "CANCELLED"
	CodeDependencyFailed  = "DEPENDENCY_FAILED"
	CodeHalted            = "RUN_HALTED"
	CodeCondition         = "CONDITION_FAILED"
	CodePanic             = "ADAPTER_PANIC"
	CodeStateCorrupt      = "STATE_CORRUPT"
)

// Sentinel errors for errors.Is checks.
var (
	ErrCycleDetected     = &EngineError{Category: CategoryConfiguration, Code: CodeCycle, Message: "dependency cycle detected"}
	ErrUnknownDependency = &EngineError{Category: CategoryConfiguration, Code: CodeUnknownDependency, Message: "unknown dependency"}
	ErrSetupInProgress   = &EngineError{Category: CategoryConfiguration, Code: CodeSetupInProgress, Message: "setup already in progress"}
	ErrPreflightFailed   = &EngineError{Category: CategoryConfiguration, Code: CodePreflightFailed, Message: "pre-flight validation failed"}
	ErrInvalidTransition = &EngineError{Category: CategoryUnknown, Code: CodeInvalidTransition, Message: "invalid step transition"}
)
