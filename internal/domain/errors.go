package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExists     = errors.New("already exists")
	ErrEmptyInput        = errors.New("empty input")
	ErrEngineFailure     = errors.New("geometry engine failure")
	ErrIncompleteResults = errors.New("incomplete results")
	ErrUnavailable       = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrDatasetNotFound    = fmt.Errorf("dataset: %w", ErrNotFound)
	ErrCellNotFound       = fmt.Errorf("cell: %w", ErrNotFound)
	ErrOutputExists       = fmt.Errorf("output: %w", ErrAlreadyExists)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ConfigError represents an invalid or inconsistent run parameter.
// It is raised before the geometry engine is touched.
type ConfigError struct {
	Field   string // Parameter name
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}

// DatasetError ties a failure to a named dataset.
type DatasetError struct {
	Dataset Dataset
	Err     error
}

// Error implements the error interface.
func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset %s: %v", e.Dataset, e.Err)
}

// Unwrap returns the underlying error.
func (e *DatasetError) Unwrap() error {
	return e.Err
}

// EmptyInputError reports a dataset with zero total length.
type EmptyInputError struct {
	Role    Role
	Dataset Dataset
}

// Error implements the error interface.
func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("no %s data for comparison: %s has zero length", e.Role, e.Dataset)
}

// Unwrap returns the underlying error type.
func (e *EmptyInputError) Unwrap() error {
	return ErrEmptyInput
}

// EngineError represents a failed geometry engine call.
type EngineError struct {
	Op      string  // Engine operation (buffer, overlay_and, ...)
	Dataset Dataset // Dataset the operation produced or read
	Err     error   // Underlying error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Dataset != "" {
		return fmt.Sprintf("engine %s on %s: %v", e.Op, e.Dataset, e.Err)
	}
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

// Unwrap returns both the engine sentinel and the cause.
func (e *EngineError) Unwrap() []error {
	return []error{ErrEngineFailure, e.Err}
}

// TaskError is the failure of one task of a parallel run.
type TaskError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, upload, list)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
