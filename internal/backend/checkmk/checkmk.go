// internal/backend/checkmk/checkmk.go - Adapter for the Checkmk Multisite view API
package checkmk

import (
	"context"
	"fmt"
	"html"
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

// Browser shortlink templates; $MONITOR$ is replaced with the base URL.
var browserURLs = map[string]string{
	"monitor":  "$MONITOR$",
	"hosts":    "$MONITOR$/index.py?start_url=view.py?view_name=hostproblems",
	"services": "$MONITOR$/index.py?start_url=view.py?view_name=svcproblems",
	"history":  "$MONITOR$/index.py?start_url=view.py?view_name=events",
}

// Multisite abbreviates states in its table output.
var statemap = map[string]string{
	"UNREACH": status.HostUnreachable,
	"CRIT":    status.ServiceCritical,
	"WARN":    status.ServiceWarning,
	"UNKN":    status.ServiceUnknown,
	"PEND":    status.HostPending,
}

var transidPattern = regexp.MustCompile(`name="_transid"[^>]*?value="([^"]*)"`)

// Adapter talks to one Checkmk Multisite site. It owns its session state
// (cookies, re-auth flag) exclusively; the polling engine guarantees its fetch
// cycles never overlap.
type Adapter struct {
	cfg      config.BackendConfig
	client   *transport.Client
	sessions backend.SessionStore
	urls     map[string]string
	log      *logrus.Entry

	mu          sync.RWMutex
	hosts       map[string]*status.Host
	refreshAuth bool
}

func New(cfg config.BackendConfig, timeout time.Duration, sessions backend.SessionStore) (*Adapter, error) {
	client, err := transport.NewClient(cfg.Username, cfg.Password, timeout, cfg.InsecureTLS)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:      cfg,
		client:   client,
		sessions: sessions,
		log:      logrus.WithField("backend", cfg.Name),
		urls: map[string]string{
			"api_hosts": cfg.URL + "/view.py?view_name=" + cfg.ViewHosts +
				"&output_format=python&lang=&limit=hard",
			"api_services": cfg.URL + "/view.py?view_name=" + cfg.ViewServices +
				"&output_format=python&lang=&limit=hard",
			"api_host_act":    cfg.URL + "/view.py?_transid=-1&_do_actions=yes&_do_confirm=Yes!&view_name=hoststatus&filled_in=actions&lang=",
			"api_service_act": cfg.URL + "/view.py?_transid=-1&_do_actions=yes&_do_confirm=Yes!&view_name=service&filled_in=actions&lang=",
			"api_svcprob_act": cfg.URL + "/view.py?_transid=-1&_do_actions=yes&_do_confirm=Yes!&view_name=svcproblems&filled_in=actions&lang=",
			"transid":         cfg.URL + "/view.py?actions=yes&filled_in=actions&host=$HOST$&service=$SERVICE$&view_name=service",
			"human_host":      cfg.URL + "/index.py?start_url=view.py%3Fview_name%3Dhoststatus",
			"human_service":   cfg.URL + "/index.py?start_url=view.py%3Fview_name%3Dservice",
			"login":           cfg.URL + "/login.py",
		},
	}

	if sessions != nil {
		if cookies, err := sessions.LoadCookies(cfg.Name); err == nil && len(cookies) > 0 {
			client.SetCookies(cfg.URL, cookies)
			a.log.WithField("cookies", len(cookies)).Debug("Restored persisted session cookies")
		}
	}

	return a, nil
}

func (a *Adapter) Name() string {
	return a.cfg.Name
}

// GetStatus runs one full fetch cycle: the host view first, then the service
// view. A service row whose host never appeared in the host view still gets a
// synthetic UP host so no service is orphaned.
func (a *Adapter) GetStatus(ctx context.Context) *status.Snapshot {
	builder := status.NewBuilder(a.cfg.Name)
	result := status.Result{StatusCode: 200}

	urlParams := ""
	if a.cfg.ForceAuthuser {
		urlParams += "&force_authuser=1"
	}
	urlParams += "&is_host_acknowledged=-1&is_service_acknowledged=-1"
	urlParams += "&is_host_notifications_enabled=-1&is_service_notifications_enabled=-1"
	urlParams += "&is_host_active_checks_enabled=-1&is_service_active_checks_enabled=-1"
	urlParams += "&host_scheduled_downtime_depth=-1&is_in_downtime=-1"

	rows, warning, err := a.fetchView(ctx, a.urls["api_hosts"]+urlParams)
	if err != nil {
		return a.failCycle(err)
	}
	if warning != "" {
		result.Warning = warning
	}
	a.parseHostRows(builder, rows)

	// Restricting the service query to reachable hosts is done server-side
	serviceParams := urlParams
	if a.cfg.FilterUnreachable {
		serviceParams += "&hst0=On&hst1=On"
	}

	rows, warning, err = a.fetchView(ctx, a.urls["api_services"]+serviceParams)
	if err != nil {
		return a.failCycle(err)
	}
	if warning != "" {
		result.Warning = warning
	}
	a.parseServiceRows(builder, rows)

	snapshot := builder.Snapshot(result)

	a.mu.Lock()
	a.hosts = snapshot.Hosts
	a.refreshAuth = false
	a.mu.Unlock()

	return snapshot
}

func (a *Adapter) failCycle(err error) *status.Snapshot {
	if backend.IsAuthError(err) {
		a.mu.Lock()
		a.refreshAuth = true
		a.mu.Unlock()
		a.log.WithError(err).Error("Cycle failed, re-login required")
		return status.ErrorSnapshot(a.cfg.Name, status.Result{Error: "Login failed", StatusCode: 401})
	}
	a.log.WithError(err).Error("Cycle failed")
	return status.ErrorSnapshot(a.cfg.Name, backend.ResultFromError(err))
}

// fetchView retrieves one saved view and parses the literal table payload into
// rows. A WARNING: body is a soft error: the warning line is stripped and
// reported while the remaining lines are parsed as the real payload.
func (a *Adapter) fetchView(ctx context.Context, rawURL string) ([][]string, string, error) {
	payload, warning, err := a.getURL(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}

	rows, err := parseRows(payload)
	if err != nil {
		a.log.WithField("payload", payload).Debug("Unparseable view payload")
		return nil, warning, &backend.ProtocolError{Message: fmt.Sprintf("unparseable view payload: %v", err)}
	}
	return rows, warning, nil
}

// getURL implements the session state machine around one view request:
// an HTML body means the session expired, in which case exactly one re-login
// is attempted before the cycle is failed with an auth error.
func (a *Adapter) getURL(ctx context.Context, rawURL string) (string, string, error) {
	resp, err := a.client.Fetch(ctx, rawURL, transport.Options{})
	if err != nil {
		return "", "", &backend.TransportError{Err: err}
	}
	if resp.StatusCode >= 400 {
		return "", "", &backend.ProtocolError{
			Message:    fmt.Sprintf("view request failed: %s", firstLine(resp.Body)),
			StatusCode: resp.StatusCode,
		}
	}

	body := resp.Body

	if strings.HasPrefix(body, "<") {
		// session expired, login and retry once
		if err := a.login(ctx); err != nil {
			return "", "", err
		}
		resp, err = a.client.Fetch(ctx, rawURL, transport.Options{})
		if err != nil {
			return "", "", &backend.TransportError{Err: err}
		}
		if strings.HasPrefix(resp.Body, "<") {
			return "", "", &backend.AuthError{Message: "still receiving login page after re-login"}
		}
		body = resp.Body
	}

	if strings.HasPrefix(body, "WARNING:") {
		warning, rest, _ := strings.Cut(body, "\n")
		a.log.WithField("warning", warning).Debug("View returned a warning")
		return rest, warning, nil
	}

	if strings.HasPrefix(body, "ERROR:") {
		return "", "", &backend.ProtocolError{Message: firstLine(body), StatusCode: resp.StatusCode}
	}

	return body, "", nil
}

// login submits the credentials as a multipart form to the login endpoint.
// Success is not judged here; the caller re-fetches the view and decides by
// the body shape.
func (a *Adapter) login(ctx context.Context) error {
	form := url.Values{
		"_username":   {a.cfg.Username},
		"_password":   {a.cfg.Password},
		"_login":      {"1"},
		"_origtarget": {""},
		"filled_in":   {"login"},
	}

	resp, err := a.client.Fetch(ctx, a.urls["login"], transport.Options{FormData: form, Multipart: true})
	if err != nil {
		return &backend.TransportError{Err: err}
	}
	if resp.StatusCode >= 400 {
		return &backend.AuthError{Message: fmt.Sprintf("login endpoint returned status %d", resp.StatusCode)}
	}

	a.log.Debug("Submitted login form")

	if a.sessions != nil {
		if err := a.sessions.SaveCookies(a.cfg.Name, a.client.Cookies(a.cfg.URL)); err != nil {
			a.log.WithError(err).Debug("Failed to persist session cookies")
		}
	}
	return nil
}

func (a *Adapter) parseHostRows(builder *status.Builder, rows [][]string) {
	if len(rows) < 2 {
		return
	}
	header := rows[0]

	for _, row := range rows[1:] {
		record := zipRow(header, row)
		name := record["host"]

		host := &status.Host{
			Name:              name,
			Status:            mapState(record["host_state"]),
			LastCheck:         record["host_check_age"],
			Duration:          record["host_state_age"],
			StatusInformation: cleanText(record["host_plugin_output"]),
			Attempt:           record["host_attempt"],
			Site:              record["sitename_plain"],
			Address:           record["host_address"],
			ScheduledDowntime: record["host_in_downtime"] == "yes",
			Acknowledged:      record["host_acknowledged"] == "yes",
			Flapping:          record["host_flapping"] == "yes",
		}
		if record["host_notifications_enabled"] == "no" {
			host.NotificationsDisabled = true
		}

		statusType, err := status.TypeFromAttempt(host.Attempt)
		if err != nil {
			a.log.WithFields(logrus.Fields{"host": name, "error": err}).Debug("Skipping host row")
			continue
		}
		host.StatusType = statusType

		builder.AddHost(host)
	}
}

func (a *Adapter) parseServiceRows(builder *status.Builder, rows [][]string) {
	if len(rows) < 2 {
		return
	}
	header := rows[0]

	for _, row := range rows[1:] {
		record := zipRow(header, row)

		svc := &status.Service{
			Host:              record["host"],
			Name:              record["service_description"],
			Status:            mapState(record["service_state"]),
			LastCheck:         record["svc_check_age"],
			Duration:          record["svc_state_age"],
			Attempt:           record["svc_attempt"],
			StatusInformation: strings.TrimSpace(cleanText(record["svc_plugin_output"])),
			Site:              record["sitename_plain"],
			Address:           record["host_address"],
			Command:           record["svc_check_command"],
			// passive services can still be rescheduled through the checker itself
			PassiveOnly:       record["svc_is_active"] == "no" && !strings.HasPrefix(record["svc_check_command"], "check_mk"),
			Flapping:          record["svc_flapping"] == "yes",
			ScheduledDowntime: record["svc_in_downtime"] == "yes",
			Acknowledged:      record["svc_acknowledged"] == "yes",
		}
		if record["svc_notifications_enabled"] == "no" {
			svc.NotificationsDisabled = true
		}

		statusType, err := status.TypeFromAttempt(svc.Attempt)
		if err != nil {
			a.log.WithFields(logrus.Fields{
				"host":    svc.Host,
				"service": svc.Name,
				"error":   err,
			}).Debug("Skipping service row")
			continue
		}
		svc.StatusType = statusType

		// a host only known from the service view stays at the builder's
		// default UP state but still gets its site and address filled in
		host := builder.EnsureHost(svc.Host)
		if host.Site == "" {
			host.Site = svc.Site
		}
		if host.Address == "" {
			host.Address = svc.Address
		}

		builder.AddService(svc)
	}
}

// Acknowledge posts the acknowledge form action, then repeats it once per
// extra service with identical comment/author/flags.
func (a *Adapter) Acknowledge(ctx context.Context, req backend.AcknowledgeRequest) error {
	params := url.Values{
		"_acknowledge":    {"Acknowledge"},
		"_ack_sticky":     {onOff(req.Sticky)},
		"_ack_notify":     {onOff(req.Notify)},
		"_ack_persistent": {onOff(req.Persistent)},
		"_ack_comment":    {a.attributedComment(req.Author, req.Comment)},
	}

	if err := a.action(ctx, req.Host, req.Service, params); err != nil {
		return err
	}
	for _, service := range req.AllServices {
		if err := a.action(ctx, req.Host, service, params); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SetDowntime(ctx context.Context, req backend.DowntimeRequest) error {
	flexible := ""
	if !req.Fixed {
		flexible = "on"
	}

	params := url.Values{
		"_down_comment":   {a.attributedComment(req.Author, req.Comment)},
		"_down_flexible":  {flexible},
		"_down_custom":    {"Custom+time+range"},
		"_down_from_date": {req.Start.Format("2006-01-02")},
		"_down_from_time": {req.Start.Format("15:04")},
		"_down_to_date":   {req.End.Format("2006-01-02")},
		"_down_to_time":   {req.End.Format("15:04")},
		"_down_duration":  {fmt.Sprintf("%d:%02d", req.Hours, req.Minutes)},
		"actions":         {"yes"},
	}

	return a.action(ctx, req.Host, req.Service, params)
}

func (a *Adapter) Recheck(ctx context.Context, req backend.RecheckRequest) error {
	params := url.Values{
		"_resched_checks": {"Reschedule active checks"},
		"_resched_pread":  {"0"},
	}
	return a.action(ctx, req.Host, req.Service, params)
}

// RecheckAll reschedules all current service problems with one call.
func (a *Adapter) RecheckAll(ctx context.Context) error {
	params := url.Values{"_resched_checks": {"Reschedule active checks"}}

	actionURL := a.urls["api_svcprob_act"] + "&" + params.Encode()
	resp, err := a.client.Fetch(ctx, actionURL, transport.Options{})
	if err != nil {
		return &backend.TransportError{Err: err}
	}
	if resp.StatusCode >= 400 {
		return &backend.ProtocolError{Message: "recheck all rejected", StatusCode: resp.StatusCode}
	}
	return nil
}

// action submits one form action. The anti-CSRF transaction id is single-use,
// so it is fetched fresh immediately before every call and never cached.
func (a *Adapter) action(ctx context.Context, host, service string, specific url.Values) error {
	transid, err := a.transid(ctx, host, service)
	if err != nil {
		return err
	}

	base := a.urls["api_host_act"]
	if service != "" {
		base = a.urls["api_service_act"]
	}
	actionURL := strings.Replace(base, "?_transid=-1&", "?_transid="+transid+"&", 1)

	params := url.Values{}
	for key, values := range specific {
		params[key] = values
	}
	params.Set("host", host)
	params.Set("service", service)
	params.Set("site", a.hostSite(host))

	a.log.WithFields(logrus.Fields{
		"host":    host,
		"service": service,
	}).Debug("Submitting action")

	resp, err := a.client.Fetch(ctx, actionURL+"&"+params.Encode(), transport.Options{})
	if err != nil {
		return &backend.TransportError{Err: err}
	}
	if resp.StatusCode >= 400 {
		return &backend.ProtocolError{Message: "action rejected", StatusCode: resp.StatusCode}
	}
	return nil
}

// transid fetches a fresh transaction id from the actions form.
func (a *Adapter) transid(ctx context.Context, host, service string) (string, error) {
	transidURL := strings.Replace(a.urls["transid"], "$HOST$", url.QueryEscape(host), 1)
	transidURL = strings.Replace(transidURL, "$SERVICE$", strings.ReplaceAll(service, " ", "+"), 1)

	resp, err := a.client.Fetch(ctx, transidURL, transport.Options{})
	if err != nil {
		return "", &backend.TransportError{Err: err}
	}

	match := transidPattern.FindStringSubmatch(resp.Body)
	if match == nil {
		a.log.WithField("payload", resp.Body).Debug("No transaction id in response")
		return "", &backend.ProtocolError{Message: "no transaction id in response", StatusCode: resp.StatusCode}
	}
	return match[1], nil
}

func (a *Adapter) MonitorURL(host, service string) string {
	if host == "" {
		return strings.ReplaceAll(browserURLs["monitor"], "$MONITOR$", a.cfg.URL)
	}

	target := "site=" + a.hostSite(host) + "&host=" + host
	base := a.urls["human_host"]
	if service != "" {
		target += "&service=" + service
		base = a.urls["human_service"]
	}
	return base + strings.Replace(url.Values{"x": {target}}.Encode(), "x=", "%26", 1)
}

func (a *Adapter) DefaultDowntimeWindow() (time.Time, time.Time) {
	now := time.Now()
	return now, now.Add(2 * time.Hour)
}

// NeedsRelogin reports whether the last cycle ended on an expired session.
func (a *Adapter) NeedsRelogin() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.refreshAuth
}

// HostAddress resolves a host record to a connectable address. With
// connect_by_dns the host name is returned as-is; otherwise the address from
// the latest snapshot is preferred.
func (a *Adapter) HostAddress(host string) string {
	if a.cfg.ConnectByDNS {
		return host
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.hosts[host]; ok && h.Address != "" {
		return h.Address
	}
	return host
}

func (a *Adapter) hostSite(host string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.hosts[host]; ok {
		return h.Site
	}
	return ""
}

// attributedComment prefixes the comment with the author unless the action
// was requested by the configured account itself.
func (a *Adapter) attributedComment(author, comment string) string {
	if author == "" || author == a.cfg.Username {
		return comment
	}
	return fmt.Sprintf("%s: %s", author, comment)
}

func zipRow(header, row []string) map[string]string {
	record := make(map[string]string, len(header))
	for i, column := range header {
		if i < len(row) {
			record[column] = row[i]
		}
	}
	return record
}

func mapState(state string) string {
	if mapped, ok := statemap[state]; ok {
		return mapped
	}
	return state
}

// cleanText unescapes HTML entities and collapses internal newlines, which the
// view API embeds in plugin output.
func cleanText(text string) string {
	return strings.ReplaceAll(html.UnescapeString(text), "\n", " ")
}

func firstLine(body string) string {
	line, _, _ := strings.Cut(body, "\n")
	return line
}

func onOff(flag bool) string {
	if flag {
		return "on"
	}
	return ""
}
