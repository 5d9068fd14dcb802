package logging

import (
	"fmt"
	"strings"
)

// OperationError annotates a pipeline failure with the stage it happened in
// and the object that was being processed.
type OperationError struct {
	Operation    string
	Stage        string
	InvocationID string
	Container    string
	Key          string
	Err          error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var attrs []string
	if e.Stage != "" {
		attrs = append(attrs, "stage="+e.Stage)
	}
	if e.Container != "" || e.Key != "" {
		attrs = append(attrs, fmt.Sprintf("blob=%s/%s", e.Container, e.Key))
	}
	if e.InvocationID != "" {
		attrs = append(attrs, "invocation_id="+e.InvocationID)
	}
	if len(attrs) == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Operation, strings.Join(attrs, " "), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with the operation and invocation it occurred in.
func NewOperationError(operation, invocationID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, InvocationID: invocationID, Err: err}
}

// NewStageError wraps a pipeline failure with full stage and object context.
func NewStageError(stage, invocationID, container, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{
		Operation:    "pipeline." + stage,
		Stage:        stage,
		InvocationID: invocationID,
		Container:    container,
		Key:          key,
		Err:          err,
	}
}
