package engine

import (
	"encoding/json"
	"fmt"
)

// StepStatus is the lifecycle status of a step within a run.
type StepStatus string

const (
	// StepPending indicates the step has not been attempted in this run.
	StepPending StepStatus = "pending"

	// StepRunning indicates the step is executing, possibly across retries.
	StepRunning StepStatus = "running"

	// StepSucceeded indicates the step completed and its post-condition held.
	StepSucceeded StepStatus = "succeeded"

	// StepFailed indicates the step failed after retries or on a
	// non-retryable error.
	StepFailed StepStatus = "failed"

	// StepBlocked is derived: a dependency failed, the pre-condition did
	// not hold, or the run halted first. It is never persisted.
	StepBlocked StepStatus = "blocked"
)

// IsTerminal returns true if the status is a final outcome for this run.
func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepBlocked
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepPending, StepRunning, StepSucceeded, StepFailed, StepBlocked:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}

// Category classifies a failure for the retry decision.
type Category string

const (
	CategoryCredential    Category = "credential"
	CategoryConfiguration Category = "configuration"
	CategoryNetwork       Category = "network"
	CategoryPermission    Category = "permission"
	CategoryResource      Category = "resource"
	CategoryUnknown       Category = "unknown"
)

// Retryable reports whether failures of this category may succeed on a
// later attempt without operator action. Throttling is classified as
// Network.
func (c Category) Retryable() bool {
	return c == CategoryNetwork
}

// Validate checks if the category is valid.
func (c Category) Validate() error {
	switch c {
	case CategoryCredential, CategoryConfiguration, CategoryNetwork,
		CategoryPermission, CategoryResource, CategoryUnknown:
		return nil
	default:
		return fmt.Errorf("invalid error category: %s", c)
	}
}

// DefaultRemediation returns the remediation shown when a failure
// carries none of its own.
func (c Category) DefaultRemediation() string {
	switch c {
	case CategoryCredential:
		return "Check the AWS credentials in use (profile, access keys or SSO session) and refresh expired tokens"
	case CategoryConfiguration:
		return "Correct the configuration value named in the message and rerun"
	case CategoryNetwork:
		return "Check network connectivity and endpoint URLs, then rerun with --resume"
	case CategoryPermission:
		return "Grant the role the permissions this action needs, then rerun with --resume"
	case CategoryResource:
		return "The resource already exists or is in a conflicting state; remove it or mark the step idempotent"
	default:
		return "Rerun with --debug and inspect the error details"
	}
}
