// Package errors provides structured error handling for taskpipe operations.
// It defines error codes, error types, and provides utilities for creating
// and classifying errors raised while running and observing background tasks.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Task lifecycle errors.
	CodeLaunchFailed   ErrorCode = "LAUNCH_FAILED"
	CodeProcessFailed  ErrorCode = "PROCESS_FAILED"
	CodeMalformedLine  ErrorCode = "MALFORMED_LINE"
	CodeObserverFailed ErrorCode = "OBSERVER_FAILED"
	CodeTaskRunning    ErrorCode = "TASK_RUNNING"
	CodeInvalidState   ErrorCode = "INVALID_STATE"

	// File system errors.
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
)

// TaskError represents an error that occurred while running a background task.
type TaskError struct {
	Code     ErrorCode
	Message  string
	TaskID   string
	Program  string
	ExitCode int
	// Output holds the last lines the process printed, if any were captured.
	Output  []string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Program != "" {
		msg += fmt.Sprintf(" (program: %s)", e.Program)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTask records the task the error belongs to.
func (e *TaskError) WithTask(taskID string) *TaskError {
	e.TaskID = taskID
	return e
}

// NewTaskError creates a new task error with the specified code and message.
func NewTaskError(code ErrorCode, message string) *TaskError {
	return &TaskError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapTaskError wraps an existing error as a task error.
func WrapTaskError(code ErrorCode, message string, err error) *TaskError {
	return &TaskError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error if it has one.
// Wrapped errors are searched as well.
func GetCode(err error) ErrorCode {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Code
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsFatal determines if an error ends a task instance without any progress.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeLaunchFailed, CodeConfiguration, CodeValidation:
		return true
	default:
		return false
	}
}

// IsExpected reports whether the error describes a normal termination,
// such as a task killed on request.
func IsExpected(err error) bool {
	return IsCode(err, CodeCanceled)
}

// Common error creation functions

// ErrLaunchFailed creates an error for a program that could not be started.
func ErrLaunchFailed(program string, err error) *TaskError {
	e := WrapTaskError(CodeLaunchFailed, "Failed to launch external program", err)
	e.Program = program
	return e
}

// ErrProcessFailed creates an error for a program that exited with a rejected code.
func ErrProcessFailed(program string, exitCode int, output []string, err error) *TaskError {
	e := WrapTaskError(CodeProcessFailed, fmt.Sprintf("External program exited with code %d", exitCode), err)
	e.Program = program
	e.ExitCode = exitCode
	e.Output = output
	return e
}

// ErrCanceled creates an error for a program killed on request.
func ErrCanceled(program string) *TaskError {
	e := NewTaskError(CodeCanceled, "Task was canceled")
	e.Program = program
	return e
}

// ErrTaskRunning creates an error for a start request rejected because a task is active.
func ErrTaskRunning(taskID string) *TaskError {
	return NewTaskError(CodeTaskRunning, "A task is already running").WithTask(taskID)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
