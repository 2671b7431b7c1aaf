// internal/backend/backend.go - Uniform adapter contract for all monitor backends
package backend

import (
	"context"
	"time"

	"github.com/stearz/Nagstamon/internal/status"
)

// Adapter translates one backend's wire protocol into the canonical
// host/service model and back. An adapter instance owns its session state
// (cookies, anti-CSRF token) exclusively; it is driven by a single polling
// worker so its fetch cycles never overlap.
type Adapter interface {
	Name() string

	// GetStatus runs one full fetch cycle and returns a complete snapshot.
	// A failed cycle returns a snapshot with an error Result and no hosts;
	// it never returns a partially populated mapping.
	GetStatus(ctx context.Context) *status.Snapshot

	// Write actions. A failed write is reported once and never retried,
	// and never mutates a previously produced snapshot.
	Acknowledge(ctx context.Context, req AcknowledgeRequest) error
	SetDowntime(ctx context.Context, req DowntimeRequest) error
	Recheck(ctx context.Context, req RecheckRequest) error

	// MonitorURL expands the backend's browser URL template, substituting
	// the $MONITOR$ placeholder with the configured base URL.
	MonitorURL(host, service string) string

	// DefaultDowntimeWindow returns the backend's suggested start/end pair
	// for a new downtime.
	DefaultDowntimeWindow() (start, end time.Time)
}

// AcknowledgeRequest is the uniform acknowledge input. AllServices lists
// additional services on the same host to acknowledge with identical
// comment/author/flags; the dispatcher issues one write per entry.
type AcknowledgeRequest struct {
	Host        string
	Service     string
	Author      string
	Comment     string
	Sticky      bool
	Notify      bool
	Persistent  bool
	AllServices []string

	// ExpireAt bounds the acknowledgement where the backend supports it.
	// Zero means the backend's default expiry.
	ExpireAt time.Time
}

// DowntimeRequest is the uniform downtime input. Fixed downtimes use the
// Start/End pair; flexible ones additionally carry a duration.
type DowntimeRequest struct {
	Host    string
	Service string
	Author  string
	Comment string
	Fixed   bool
	Start   time.Time
	End     time.Time
	Hours   int
	Minutes int
}

type RecheckRequest struct {
	Host    string
	Service string
}
