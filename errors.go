package flowrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidExpression  = "INVALID_EXPRESSION"
	ErrCodeVariableResolution = "VARIABLE_RESOLUTION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	ErrCodeExecutionFailed    = "EXECUTION_FAILED"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeTriggerFailure     = "TRIGGER_FAILURE"
	ErrCodePanic              = "PANIC"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrCapacityExceeded is returned synchronously by dispatch when the global
// concurrency cap is saturated. Transient: the caller retries on the next
// tick, nothing is recorded.
var ErrCapacityExceeded = errors.New(ErrCodeCapacityExceeded)

// ExecutionError represents a terminal error on a workflow execution
type ExecutionError struct {
	Message   string    `json:"message" dynamodbav:"message"`
	Code      string    `json:"code" dynamodbav:"code"`
	StepID    string    `json:"stepId,omitempty" dynamodbav:"step_id,omitempty"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] %s (step: %s)", e.Code, e.Message, e.StepID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewExecutionError creates a new execution error
func NewExecutionError(code, message string) *ExecutionError {
	return &ExecutionError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewExecutionErrorWithStep creates a new execution error with step context
func NewExecutionErrorWithStep(code, message, stepID string) *ExecutionError {
	return &ExecutionError{
		Message:   message,
		Code:      code,
		StepID:    stepID,
		Timestamp: time.Now(),
	}
}

// StepError represents an error during step execution
type StepError struct {
	Message   string    `json:"message" dynamodbav:"message"`
	Code      string    `json:"code" dynamodbav:"code"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewStepError creates a new step error
func NewStepError(code, message string) *StepError {
	return &StepError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// VariableResolutionError reports unresolved placeholders in a step's
// configuration. It fails the step without invoking the runner.
type VariableResolutionError struct {
	StepID  string
	Missing []string
}

// Error implements the error interface
func (e *VariableResolutionError) Error() string {
	return fmt.Sprintf("step %s references undefined variables: %s",
		e.StepID, strings.Join(e.Missing, ", "))
}

// ToStepError converts a Go error into a StepError, classifying timeouts
// and cancellations
func ToStepError(err error) *StepError {
	if err == nil {
		return nil
	}

	if se, ok := err.(*StepError); ok {
		return se
	}

	var vre *VariableResolutionError
	if errors.As(err, &vre) {
		return NewStepError(ErrCodeVariableResolution, err.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewStepError(ErrCodeTimeout, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return NewStepError(ErrCodeCancelled, err.Error())
	}

	return NewStepError(ErrCodeExecutionFailed, err.Error())
}

// IsCapacityError checks if an error is a concurrency-cap rejection
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StepError); ok {
		return se.Code == ErrCodeTimeout
	}
	if ee, ok := err.(*ExecutionError); ok {
		return ee.Code == ErrCodeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "context deadline exceeded")
}

// IsCancelledError checks if an error marks a cancelled execution
func IsCancelledError(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StepError); ok {
		return se.Code == ErrCodeCancelled
	}
	if ee, ok := err.(*ExecutionError); ok {
		return ee.Code == ErrCodeCancelled
	}
	return errors.Is(err, context.Canceled)
}
