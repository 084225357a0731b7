// Package domain defines core types, interfaces, and errors for the query service.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ConnectionUnavailableError indicates that no connection could be resolved
// for an owner URI. No query is created when it is returned.
type ConnectionUnavailableError struct {
	Message string
	Err     error
}

func (e *ConnectionUnavailableError) Error() string { return e.Message }
func (e *ConnectionUnavailableError) Unwrap() error { return e.Err }

// AlreadyExecutingError indicates an execute request for an owner URI whose
// previous query is still running.
type AlreadyExecutingError struct {
	Message string
}

func (e *AlreadyExecutingError) Error() string { return e.Message }

// StatementExecutionError wraps a driver error raised while a batch ran.
type StatementExecutionError struct {
	Message string
	Err     error
}

func (e *StatementExecutionError) Error() string { return e.Message }
func (e *StatementExecutionError) Unwrap() error { return e.Err }

// SubsetAddressingError indicates a subset or export request addressed a
// batch, result set or row window that does not exist.
type SubsetAddressingError struct {
	Message string
}

func (e *SubsetAddressingError) Error() string { return e.Message }

// StorageIOError indicates a failure reading or writing result storage.
type StorageIOError struct {
	Message string
	Err     error
}

func (e *StorageIOError) Error() string { return e.Message }
func (e *StorageIOError) Unwrap() error { return e.Err }

// ExportIOError indicates a failure writing an export target.
type ExportIOError struct {
	Message string
	Err     error
}

func (e *ExportIOError) Error() string { return e.Message }
func (e *ExportIOError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrConnectionUnavailable creates a ConnectionUnavailableError wrapping err.
func ErrConnectionUnavailable(err error, format string, args ...interface{}) *ConnectionUnavailableError {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &ConnectionUnavailableError{Message: msg, Err: err}
}

// ErrAlreadyExecuting creates an AlreadyExecutingError with a formatted message.
func ErrAlreadyExecuting(format string, args ...interface{}) *AlreadyExecutingError {
	return &AlreadyExecutingError{Message: fmt.Sprintf(format, args...)}
}

// ErrStatementExecution wraps a driver error. The message is the driver's own
// text so that it can be shown to the user verbatim.
func ErrStatementExecution(err error) *StatementExecutionError {
	return &StatementExecutionError{Message: err.Error(), Err: err}
}

// ErrSubsetAddressing creates a SubsetAddressingError with a formatted message.
func ErrSubsetAddressing(format string, args ...interface{}) *SubsetAddressingError {
	return &SubsetAddressingError{Message: fmt.Sprintf(format, args...)}
}

// ErrStorageIO creates a StorageIOError wrapping err.
func ErrStorageIO(err error, format string, args ...interface{}) *StorageIOError {
	return &StorageIOError{Message: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}

// ErrExportIO creates an ExportIOError wrapping err.
func ErrExportIO(err error, format string, args ...interface{}) *ExportIOError {
	return &ExportIOError{Message: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}
