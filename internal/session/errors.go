package session

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/status"
	"pkt.systems/afkcraft/schema"
)

// Classify maps a runtime error onto the session taxonomy.
func Classify(op string, err error) *schema.SessionError {
	var se *schema.SessionError
	if errors.As(err, &se) {
		return se
	}
	kind := schema.SessionErrorRuntimeOperation
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = schema.SessionErrorRuntimeTimeout
	case errors.Is(err, shipohoy.ErrUnavailable):
		kind = schema.SessionErrorRuntimeUnavailable
	case errors.Is(err, shipohoy.ErrNotFound):
		kind = schema.SessionErrorNotFound
	}
	return schema.NewSessionError(kind, op, err)
}

// createFailed wraps a runtime failure during start. The message is
// scrubbed of the decrypted credential.
func createFailed(op string, err error, secret string) *schema.SessionError {
	cause := Classify("runtime", err)
	out := &schema.SessionError{
		Kind: schema.SessionErrorCreateFailed,
		Op:   op,
		Err:  cause,
	}
	msg := fmt.Sprintf("session %s failed: %s: %v", op, cause.Kind, err)
	if secret != "" {
		msg = status.Scrub(msg, []string{secret})
	}
	out.Message = msg
	return out
}

func alreadyRunning(op string, user schema.UserKey) *schema.SessionError {
	return &schema.SessionError{
		Kind:    schema.SessionErrorAlreadyRunning,
		Op:      op,
		Message: fmt.Sprintf("an AFK client for %s is already running", user),
	}
}

func causeKind(err error) schema.SessionErrorKind {
	kind, _ := schema.CauseKind(err)
	return kind
}
