package models

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks input rejected on the device before any request.
	ErrValidation = errors.New("validation failed")
	// ErrRejected marks an authentication or authorization rejection by the backend.
	ErrRejected = errors.New("rejected by backend")
	// ErrTransport marks network failures and server-side errors.
	ErrTransport = errors.New("transport failure")
	// ErrContractViolation marks a success response missing a required field.
	ErrContractViolation = errors.New("backend contract violation")
	// ErrStream marks failures of the real-time status channel.
	ErrStream = errors.New("status stream failure")
	// ErrPermission marks a denied device permission (location, biometric).
	ErrPermission = errors.New("permission denied")
)

// BackendError is a non-2xx backend response.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend responded %d", e.Status)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Status, e.Body)
}

// Unwrap classifies the response into the error taxonomy.
func (e *BackendError) Unwrap() error {
	if e.Status >= http.StatusInternalServerError {
		return ErrTransport
	}
	return ErrRejected
}

// ContractViolation builds an ErrContractViolation naming the missing field.
func ContractViolation(field string) error {
	return fmt.Errorf("%w: missing %s", ErrContractViolation, field)
}
