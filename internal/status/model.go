// internal/status/model.go - Canonical host/service model shared by all backends
package status

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Host states as reported by the monitor backends.
const (
	HostUp          = "UP"
	HostDown        = "DOWN"
	HostUnreachable = "UNREACHABLE"
	HostPending     = "PENDING"
)

// Service states. Alertmanager severities map onto the same namespace.
const (
	ServiceOK       = "OK"
	ServiceWarning  = "WARNING"
	ServiceCritical = "CRITICAL"
	ServiceUnknown  = "UNKNOWN"
)

// StatusType distinguishes confirmed problems from ones still being retried.
type StatusType string

const (
	StatusTypeHard StatusType = "hard"
	StatusTypeSoft StatusType = "soft"
)

// Host is one monitored host within a single backend's snapshot. Hosts are
// rebuilt wholesale every fetch cycle, never patched incrementally.
type Host struct {
	Name                  string              `json:"name"`
	Server                string              `json:"server"`
	Status                string              `json:"status"`
	LastCheck             string              `json:"last_check"`
	Duration              string              `json:"duration"`
	Attempt               string              `json:"attempt"`
	StatusType            StatusType          `json:"status_type"`
	StatusInformation     string              `json:"status_information"`
	Site                  string              `json:"site,omitempty"`
	Address               string              `json:"address,omitempty"`
	ScheduledDowntime     bool                `json:"scheduled_downtime"`
	Acknowledged          bool                `json:"acknowledged"`
	NotificationsDisabled bool                `json:"notifications_disabled"`
	Flapping              bool                `json:"flapping"`
	Services              map[string]*Service `json:"services"`
}

// Service is one service belonging to exactly one Host. The Labels map and
// Fingerprint are carried from the alert-list backend so write actions can be
// addressed later; the tabular backend leaves them empty.
type Service struct {
	Host                  string            `json:"host"`
	Name                  string            `json:"name"`
	Server                string            `json:"server"`
	Status                string            `json:"status"`
	LastCheck             string            `json:"last_check"`
	Duration              string            `json:"duration"`
	Attempt               string            `json:"attempt"`
	StatusType            StatusType        `json:"status_type"`
	StatusInformation     string            `json:"status_information"`
	Site                  string            `json:"site,omitempty"`
	Address               string            `json:"address,omitempty"`
	Command               string            `json:"command,omitempty"`
	PassiveOnly           bool              `json:"passive_only"`
	Flapping              bool              `json:"flapping"`
	ScheduledDowntime     bool              `json:"scheduled_downtime"`
	Acknowledged          bool              `json:"acknowledged"`
	NotificationsDisabled bool              `json:"notifications_disabled"`
	Labels                map[string]string `json:"labels,omitempty"`
	Fingerprint           string            `json:"fingerprint,omitempty"`
	GeneratorURL          string            `json:"generator_url,omitempty"`
}

// Result is the outcome of one fetch cycle. A snapshot is either wholly usable
// (possibly empty) or carries an error here - never silently truncated.
type Result struct {
	Error      string `json:"error,omitempty"`
	Warning    string `json:"warning,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// OK reports whether the cycle succeeded. A non-fatal warning (for example a
// stripped "WARNING:" line from the tabular backend) does not fail the cycle.
func (r Result) OK() bool {
	return r.Error == ""
}

// Snapshot is the full host mapping produced by one fetch cycle.
type Snapshot struct {
	Backend string           `json:"backend"`
	Hosts   map[string]*Host `json:"hosts"`
	Result  Result           `json:"result"`
	Taken   time.Time        `json:"taken"`
}

// HostCount and ServiceCount are convenience accessors for metrics and the API.
func (s *Snapshot) HostCount() int {
	return len(s.Hosts)
}

func (s *Snapshot) ServiceCount() int {
	n := 0
	for _, h := range s.Hosts {
		n += len(h.Services)
	}
	return n
}

// ParseAttempt splits a "current/max" check attempt string into its two
// counters. Malformed strings are a classified per-record error, not a crash.
func ParseAttempt(attempt string) (current, max int, err error) {
	cur, maxs, found := strings.Cut(attempt, "/")
	if !found {
		return 0, 0, fmt.Errorf("attempt %q: missing '/' separator", attempt)
	}

	current, err = strconv.Atoi(strings.TrimSpace(cur))
	if err != nil {
		return 0, 0, fmt.Errorf("attempt %q: current is not a number", attempt)
	}

	max, err = strconv.Atoi(strings.TrimSpace(maxs))
	if err != nil {
		return 0, 0, fmt.Errorf("attempt %q: max is not a number", attempt)
	}

	return current, max, nil
}

// TypeFromAttempt derives hard/soft state: hard when the check attempt counter
// has reached its configured maximum, soft while the backend is still retrying.
func TypeFromAttempt(attempt string) (StatusType, error) {
	current, max, err := ParseAttempt(attempt)
	if err != nil {
		return "", err
	}
	if current == max {
		return StatusTypeHard, nil
	}
	return StatusTypeSoft, nil
}
