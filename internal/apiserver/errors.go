package apiserver

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds a caller can test for with errors.Is.
var (
	// ErrValidation is returned for 400 responses.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned for 404 responses and for empty task lookups.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when arbitration rejected this instance (409).
	ErrConflict = errors.New("instance conflict")

	// ErrNetwork marks a connection-level failure that survived every retry.
	ErrNetwork = errors.New("network error")

	// ErrProtocol marks a response body that is not the expected JSON envelope.
	ErrProtocol = errors.New("protocol error")
)

// APIError is returned for every failed call. Status is 0 when no HTTP
// response was received.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: %s", e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// Unwrap exposes the underlying cause (ErrNetwork, ErrProtocol or nil).
func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code.
func (e *APIError) HTTPStatusCode() int {
	return e.Status
}

// Is maps HTTP statuses onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Status == http.StatusBadRequest
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// networkError marks an attempt that failed before a response arrived.
type networkError struct {
	err error
}

func (e *networkError) Error() string { return e.err.Error() }
func (e *networkError) Unwrap() error { return e.err }
