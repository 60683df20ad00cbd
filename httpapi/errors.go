package httpapi

import (
	"errors"
	"net/http"

	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
)

// Error kinds reported for failures that are not session errors.
const (
	kindInvalidRequest = "invalid_request"
	kindUnauthorized   = "unauthorized"
	kindTOTPRequired   = "totp_required"
	kindForbidden      = "forbidden"
	kindConflict       = "conflict"
	kindRateLimited    = "rate_limited"
	kindInternal       = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var sessionStatus = map[schema.SessionErrorKind]int{
	schema.SessionErrorAlreadyRunning:     http.StatusConflict,
	schema.SessionErrorNotRunning:         http.StatusNotFound,
	schema.SessionErrorCredential:         http.StatusUnprocessableEntity,
	schema.SessionErrorRuntimeUnavailable: http.StatusServiceUnavailable,
	schema.SessionErrorRuntimeTimeout:     http.StatusGatewayTimeout,
	schema.SessionErrorRuntimeOperation:   http.StatusBadGateway,
	schema.SessionErrorNotFound:           http.StatusNotFound,
	schema.SessionErrorCreateFailed:       http.StatusBadGateway,
	schema.SessionErrorInvalidUser:        http.StatusBadRequest,
}

// classifyError maps err to an HTTP status, a stable kind and a message safe
// to return to the caller.
func classifyError(err error) (int, string, string) {
	if kind, ok := schema.KindOf(err); ok {
		code, known := sessionStatus[kind]
		if !known {
			code = http.StatusInternalServerError
		}
		if kind == schema.SessionErrorCreateFailed {
			switch {
			case schema.IsKind(err, schema.SessionErrorRuntimeUnavailable):
				code = http.StatusServiceUnavailable
			case schema.IsKind(err, schema.SessionErrorRuntimeTimeout):
				code = http.StatusGatewayTimeout
			}
		}
		return code, string(kind), err.Error()
	}
	switch {
	case errors.Is(err, schema.ErrInvalidUserKey):
		return http.StatusBadRequest, string(schema.SessionErrorInvalidUser), schema.ErrInvalidUserKey.Error()
	case errors.Is(err, schema.ErrInvalidRequest):
		return http.StatusBadRequest, kindInvalidRequest, err.Error()
	case errors.Is(err, schema.ErrNotWhitelisted), errors.Is(err, schema.ErrForbidden):
		return http.StatusForbidden, kindForbidden, err.Error()
	case errors.Is(err, auth.ErrTOTPRequired):
		return http.StatusUnauthorized, kindTOTPRequired, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidTOTP):
		return http.StatusUnauthorized, kindUnauthorized, auth.ErrInvalidCredentials.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, kindUnauthorized, auth.ErrInvalidToken.Error()
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, kindConflict, store.ErrConflict.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, string(schema.SessionErrorNotFound), store.ErrNotFound.Error()
	case errors.Is(err, auth.ErrVaultUnavailable):
		return http.StatusServiceUnavailable, string(schema.SessionErrorCredential), err.Error()
	default:
		return http.StatusInternalServerError, kindInternal, "internal error"
	}
}
