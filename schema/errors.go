package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUserKey indicates an in-game name unusable as a session key.
	ErrInvalidUserKey = errors.New("invalid in-game name: must match [A-Za-z0-9_]{1,16}")
	// ErrNotWhitelisted indicates the user has no approved whitelist entry.
	ErrNotWhitelisted = errors.New("your account is not whitelisted")
	// ErrForbidden indicates the caller lacks admin rights.
	ErrForbidden = errors.New("admin privileges required")
)

// SessionErrorKind classifies session failures so callers branch on kind.
type SessionErrorKind string

const (
	// SessionErrorAlreadyRunning rejects a start on an active session.
	SessionErrorAlreadyRunning SessionErrorKind = "already_running"
	// SessionErrorNotRunning reports a missing session where one is required.
	SessionErrorNotRunning SessionErrorKind = "not_running"
	// SessionErrorCredential indicates the vault failed to decrypt a credential.
	SessionErrorCredential SessionErrorKind = "credential_error"
	// SessionErrorRuntimeUnavailable indicates the daemon is unreachable.
	SessionErrorRuntimeUnavailable SessionErrorKind = "runtime_unavailable"
	// SessionErrorRuntimeTimeout indicates a runtime call exceeded its deadline.
	SessionErrorRuntimeTimeout SessionErrorKind = "runtime_timeout"
	// SessionErrorRuntimeOperation indicates the engine rejected a request.
	SessionErrorRuntimeOperation SessionErrorKind = "runtime_operation_failed"
	// SessionErrorNotFound indicates a handle lookup failed.
	SessionErrorNotFound SessionErrorKind = "not_found"
	// SessionErrorCreateFailed wraps any runtime failure during start.
	SessionErrorCreateFailed SessionErrorKind = "session_create_failed"
	// SessionErrorInvalidUser indicates the user key failed validation.
	SessionErrorInvalidUser SessionErrorKind = "invalid_user"
)

// SessionError wraps session failures with a stable classification.
type SessionError struct {
	Kind    SessionErrorKind
	Op      string
	Message string
	Err     error
}

// NewSessionError constructs a classified session error.
func NewSessionError(kind SessionErrorKind, op string, err error) *SessionError {
	return &SessionError{Kind: kind, Op: op, Err: err}
}

func (e *SessionError) Error() string {
	if e == nil {
		return "session error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		}
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("session %s failed: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the outermost session error kind in err's chain.
func KindOf(err error) (SessionErrorKind, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// CauseKind returns the innermost session error kind in err's chain.
func CauseKind(err error) (SessionErrorKind, bool) {
	var kind SessionErrorKind
	found := false
	for err != nil {
		var se *SessionError
		if !errors.As(err, &se) {
			break
		}
		kind = se.Kind
		found = true
		err = se.Err
	}
	return kind, found
}

// IsKind reports whether any session error in err's chain has kind.
func IsKind(err error, kind SessionErrorKind) bool {
	for err != nil {
		var se *SessionError
		if !errors.As(err, &se) {
			return false
		}
		if se.Kind == kind {
			return true
		}
		err = se.Err
	}
	return false
}
