package domain

import "fmt"

// Error types for consistent error handling across the gateway.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrDuplicate indicates an entry with the same external reference is
// already queued. Treated as success-no-op by callers, never escalated.
type ErrDuplicate struct {
	ExternalRef string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate transaction: %s", e.ExternalRef)
}

// ErrLocalStore indicates the device-local queue failed to persist a
// record. This is the one hard failure in the pipeline: the message is
// lost unless the OS redelivers it.
type ErrLocalStore struct {
	Op  string
	Err error
}

func (e *ErrLocalStore) Error() string {
	return fmt.Sprintf("local store %s failed: %v", e.Op, e.Err)
}

func (e *ErrLocalStore) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
