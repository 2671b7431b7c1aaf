// internal/backend/alertmanager/alertmanager.go - Adapter for the Alertmanager v2 API
package alertmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stearz/Nagstamon/internal/backend"
	"github.com/stearz/Nagstamon/internal/config"
	"github.com/stearz/Nagstamon/internal/status"
	"github.com/stearz/Nagstamon/internal/transport"
)

const (
	apiPathAlerts   = "/api/v2/alerts"
	apiPathSilences = "/api/v2/silences"

	defaultComment = "Nagstamon silence"
	defaultAuthor  = "Nagstamon"

	// expiry applied to acknowledgements that come without one
	defaultAckExpiry = 24 * time.Hour
)

var monitorURLTemplate = "$MONITOR$/#/alerts"

var portSuffix = regexp.MustCompile(`:[0-9]+$`)

// alert mirrors one entry of the GET /api/v2/alerts response.
type alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Status      struct {
		State string `json:"state"`
	} `json:"status"`
	StartsAt     time.Time `json:"startsAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	GeneratorURL string    `json:"generatorURL"`
	Fingerprint  string    `json:"fingerprint"`
}

type matcher struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	IsRegex bool   `json:"isRegex"`
	IsEqual bool   `json:"isEqual"`
}

// silence is the POST /api/v2/silences request body.
type silence struct {
	Matchers  []matcher `json:"matchers"`
	StartsAt  string    `json:"startsAt"`
	EndsAt    string    `json:"endsAt"`
	CreatedBy string    `json:"createdBy"`
	Comment   string    `json:"comment"`
}

// Adapter talks to one Alertmanager instance. Silences are matched by label,
// so every produced Service keeps its raw label map and fingerprint for the
// write path.
type Adapter struct {
	cfg    config.BackendConfig
	client *transport.Client
	log    *logrus.Entry

	mu    sync.RWMutex
	hosts map[string]*status.Host

	// time source, swapped out in tests
	now func() time.Time
}

func New(cfg config.BackendConfig, timeout time.Duration) (*Adapter, error) {
	client, err := transport.NewClient(cfg.Username, cfg.Password, timeout, cfg.InsecureTLS)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		cfg:    cfg,
		client: client,
		log:    logrus.WithField("backend", cfg.Name),
		now:    time.Now,
	}, nil
}

func (a *Adapter) Name() string {
	return a.cfg.Name
}

func (a *Adapter) GetStatus(ctx context.Context) *status.Snapshot {
	alertsURL := a.cfg.URL + apiPathAlerts
	if a.cfg.Filter != "" {
		alertsURL += "?filter=" + url.QueryEscape(a.cfg.Filter)
	}

	resp, err := a.client.Fetch(ctx, alertsURL, transport.Options{
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		a.log.WithError(err).Error("Cycle failed")
		return status.ErrorSnapshot(a.cfg.Name, backend.ResultFromError(&backend.TransportError{Err: err}))
	}
	if resp.StatusCode != 200 {
		a.log.WithField("status", resp.StatusCode).Error("Alert list request rejected")
		return status.ErrorSnapshot(a.cfg.Name, status.Result{
			Error:      fmt.Sprintf("alert list request returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		})
	}

	var alerts []alert
	if err := json.Unmarshal([]byte(resp.Body), &alerts); err != nil {
		a.log.WithField("payload", resp.Body).Debug("Unparseable alert list")
		return status.ErrorSnapshot(a.cfg.Name, backend.ResultFromError(&backend.ProtocolError{
			Message: fmt.Sprintf("unparseable alert list: %v", err),
		}))
	}

	builder := status.NewBuilder(a.cfg.Name)
	for i := range alerts {
		svc, ok := a.processAlert(&alerts[i])
		if !ok {
			continue
		}
		builder.AddService(svc)
	}

	snapshot := builder.Snapshot(status.Result{StatusCode: resp.StatusCode})

	a.mu.Lock()
	a.hosts = snapshot.Hosts
	a.mu.Unlock()

	return snapshot
}

// processAlert normalizes one alert into a Service. A false return means the
// alert is dropped: either filtered deliberately (severity "none") or
// malformed, which skips the record without failing the cycle.
func (a *Adapter) processAlert(al *alert) (*status.Service, bool) {
	log := a.log.WithField("fingerprint", al.Fingerprint)

	severity := strings.ToUpper(al.Labels["severity"])
	if severity == "" {
		severity = status.ServiceUnknown
	}

	state := al.Status.State
	if state == "" {
		state = "active"
	}

	// alerts routed with severity "none" are filtered on purpose
	if severity == "NONE" {
		log.WithFields(logrus.Fields{"state": state, "severity": severity}).
			Debug("Skipping alert with severity none")
		return nil, false
	}
	log.WithFields(logrus.Fields{"state": state, "severity": severity}).
		Debug("Processing alert")

	hostname := detectFromLabels(al.Labels, a.cfg.HostnameLabels, "unknown")
	hostname = portSuffix.ReplaceAllString(hostname, "")
	log.WithField("host", hostname).Debug("Detected hostname from labels")

	servicename := detectFromLabels(al.Labels, a.cfg.ServicenameLabels, "unknown")
	log.WithField("service", servicename).Debug("Detected servicename from labels")

	suppressed := state == "suppressed"
	if suppressed {
		log.WithField("state", state).Debug("Interpreting suppressed alert as silenced")
	}

	now := a.now()

	return &status.Service{
		Host:              hostname,
		Name:              servicename,
		Status:            severity,
		StatusType:        status.StatusTypeHard,
		LastCheck:         formatDuration(al.UpdatedAt, now),
		Duration:          formatDuration(al.StartsAt, now),
		Attempt:           state,
		StatusInformation: detectFromLabels(al.Annotations, a.cfg.StatusInfoLabels, ""),
		ScheduledDowntime: suppressed,
		Acknowledged:      suppressed,
		Labels:            al.Labels,
		Fingerprint:       al.Fingerprint,
		GeneratorURL:      al.GeneratorURL,
	}, true
}

// SetDowntime creates a silence matching the host/service pair by synthesized
// instance and alertname matchers.
func (a *Adapter) SetDowntime(ctx context.Context, req backend.DowntimeRequest) error {
	body := silence{
		Matchers: []matcher{
			{Name: "instance", Value: req.Host, IsEqual: true},
			{Name: "alertname", Value: req.Service, IsEqual: true},
		},
		StartsAt:  req.Start.UTC().Format(time.RFC3339),
		EndsAt:    req.End.UTC().Format(time.RFC3339),
		CreatedBy: orDefault(req.Author, defaultAuthor),
		Comment:   orDefault(req.Comment, defaultComment),
	}
	return a.postSilence(ctx, body)
}

// Acknowledge re-posts the alert's full label set as exact-match matchers.
// Without an explicit expiry the silence ends after a fixed default duration.
func (a *Adapter) Acknowledge(ctx context.Context, req backend.AcknowledgeRequest) error {
	targets := append([]string{req.Service}, req.AllServices...)

	start := a.now().UTC()
	end := req.ExpireAt
	if end.IsZero() {
		end = start.Add(defaultAckExpiry)
	}

	for _, service := range targets {
		labels, err := a.serviceLabels(req.Host, service)
		if err != nil {
			return err
		}

		matchers := make([]matcher, 0, len(labels))
		for name, value := range labels {
			matchers = append(matchers, matcher{Name: name, Value: value, IsEqual: true})
		}

		body := silence{
			Matchers:  matchers,
			StartsAt:  start.Format(time.RFC3339),
			EndsAt:    end.UTC().Format(time.RFC3339),
			CreatedBy: orDefault(req.Author, defaultAuthor),
			Comment:   orDefault(req.Comment, defaultComment),
		}
		if err := a.postSilence(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

// Recheck is not supported: Alertmanager evaluates alerts on its own schedule.
func (a *Adapter) Recheck(ctx context.Context, req backend.RecheckRequest) error {
	return fmt.Errorf("backend %s: recheck is not supported by alertmanager", a.cfg.Name)
}

func (a *Adapter) postSilence(ctx context.Context, body silence) error {
	resp, err := a.client.Fetch(ctx, a.cfg.URL+apiPathSilences, transport.Options{JSONBody: body})
	if err != nil {
		return &backend.TransportError{Err: err}
	}
	if resp.StatusCode >= 300 {
		a.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   resp.Body,
		}).Debug("Silence creation rejected")
		return &backend.ProtocolError{Message: "silence creation rejected", StatusCode: resp.StatusCode}
	}
	return nil
}

func (a *Adapter) serviceLabels(host, service string) (map[string]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h, ok := a.hosts[host]
	if !ok {
		return nil, fmt.Errorf("host %q not in current snapshot", host)
	}
	svc, ok := h.Services[service]
	if !ok {
		return nil, fmt.Errorf("service %q not on host %q in current snapshot", service, host)
	}
	return svc.Labels, nil
}

func (a *Adapter) MonitorURL(host, service string) string {
	return strings.ReplaceAll(monitorURLTemplate, "$MONITOR$", a.cfg.URL)
}

func (a *Adapter) DefaultDowntimeWindow() (time.Time, time.Time) {
	now := a.now()
	return now, now.Add(24 * time.Hour)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
