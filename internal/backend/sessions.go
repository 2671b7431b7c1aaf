// internal/backend/sessions.go - Persistence hook for adapter session state
package backend

import (
	"context"
	"net/http"
)

// SessionStore persists an adapter's session cookies across restarts so a
// still-valid backend session does not force a fresh login. Implementations
// must tolerate unknown backend names by returning an empty cookie set.
type SessionStore interface {
	LoadCookies(backend string) ([]*http.Cookie, error)
	SaveCookies(backend string, cookies []*http.Cookie) error
}

// AllRechecker is implemented by adapters that support rescheduling all
// current problems with a single backend call.
type AllRechecker interface {
	RecheckAll(ctx context.Context) error
}

// AddressResolver is implemented by adapters that can resolve a host record to
// the address a client should connect to, honoring the backend's
// connect_by_dns setting.
type AddressResolver interface {
	HostAddress(host string) string
}
