package shipohoy

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the named container, image or network does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource already exists.
	ErrConflict = errors.New("already exists")
	// ErrUnavailable indicates the daemon could not be reached.
	ErrUnavailable = errors.New("runtime unavailable")
)

// APIError is a request the engine answered with an error status.
type APIError struct {
	Runtime    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "runtime API error"
	}
	runtime := e.Runtime
	if runtime == "" {
		runtime = "runtime"
	}
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", runtime, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: %s", runtime, e.Message)
}

// Is maps engine status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Unavailable wraps a transport failure so it matches ErrUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{err: err}
}

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUnavailable.Error(), e.err)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}
