// internal/backend/errors.go - Shared error taxonomy for backend faults
package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stearz/Nagstamon/internal/status"
)

// TransportError wraps a connection-level failure (DNS, refused connection,
// timeout). Fatal to the current cycle, never to the process.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError signals rejected credentials or a session that stays expired
// after re-login. Surfaced to the caller as a distinct needs-relogin status.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// ProtocolError signals a malformed or unexpected payload from the backend.
// PerRecord errors skip that record only; per-response errors abort the cycle.
type ProtocolError struct {
	Message    string
	StatusCode int
	PerRecord  bool
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("protocol error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// ResultFromError collapses a classified error into the Result attached to an
// error snapshot. Auth failures are reported with status 401 so the caller can
// degrade to an unauthenticated-looking empty result instead of crashing.
func ResultFromError(err error) status.Result {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return status.Result{Error: authErr.Error(), StatusCode: http.StatusUnauthorized}
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return status.Result{Error: protoErr.Error(), StatusCode: protoErr.StatusCode}
	}

	return status.Result{Error: err.Error()}
}
