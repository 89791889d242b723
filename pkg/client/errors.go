package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches a *StatusError with code 404.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized matches a *StatusError with code 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches a *StatusError with code 403.
	ErrForbidden = errors.New("forbidden")
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string // server-provided message, may be empty
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

// Is lets errors.Is match the sentinel errors by status code.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	}
	return false
}

// NetworkError is returned when a request could not be completed at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AsStatus checks if an error is a StatusError and returns it.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejected reports whether the backend refused the request with a 4xx status.
func IsRejected(err error) bool {
	se, ok := AsStatus(err)
	return ok && se.Code >= 400 && se.Code < 500
}

// Message returns the server-provided message carried by err, or fallback.
func Message(err error, fallback string) string {
	if se, ok := AsStatus(err); ok && se.Message != "" {
		return se.Message
	}
	return fallback
}

func isTransient(err error) bool {
	if IsNetwork(err) {
		return true
	}
	se, ok := AsStatus(err)
	return ok && se.Code >= 500
}
