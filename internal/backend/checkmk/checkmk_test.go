// internal/backend/checkmk/checkmk_test.go
package checkmk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stearz/Nagstamon/internal/backend"
	"github.com/stearz/Nagstamon/internal/config"
	"github.com/stearz/Nagstamon/internal/status"
)

const hostPayload = `[
['host', 'host_state', 'host_check_age', 'host_state_age', 'host_plugin_output', 'host_attempt', 'sitename_plain', 'host_address', 'host_in_downtime', 'host_acknowledged', 'host_flapping', 'host_notifications_enabled'],
['web1', 'DOWN', '30 sec', '5 min', 'CRITICAL - ping timeout', '1/1', 'mysite', '10.0.0.1', 'no', 'yes', 'no', 'yes']
]`

const servicePayload = `[
['host', 'service_description', 'service_state', 'svc_check_age', 'svc_state_age', 'svc_attempt', 'svc_plugin_output', 'sitename_plain', 'host_address', 'svc_check_command', 'svc_is_active', 'svc_flapping', 'svc_in_downtime', 'svc_acknowledged', 'svc_notifications_enabled'],
['web1', 'HTTP', 'CRIT', '10 sec', '2 min', '2/3', 'HTTP CRITICAL &lt;timeout&gt;', 'mysite', '10.0.0.1', 'check_http', 'yes', 'no', 'no', 'no', 'yes'],
['db1', 'Backup', 'WARN', '1 min', '1 hour', '1/1', 'backup overdue', 'mysite', '10.0.0.2', 'check_legacy_backup', 'no', 'no', 'yes', 'no', 'no'],
['db1', 'Disk /', 'UNKN', '1 min', '1 hour', 'broken', 'stale', 'mysite', '10.0.0.2', 'check_mk-df', 'yes', 'no', 'no', 'no', 'yes']
]`

// fakeSite emulates just enough of the Multisite web interface: the two saved
// views, the login form and the actions form with its transaction id.
type fakeSite struct {
	mu             sync.Mutex
	loggedIn       bool
	requireLogin   bool
	rejectLogin    bool
	hostBody       string
	serviceBody    string
	logins         int
	transidCounter int
	actionURLs     []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{hostBody: hostPayload, serviceBody: servicePayload}
}

func (s *fakeSite) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path == "/login.py" {
		s.logins++
		if !s.rejectLogin {
			s.loggedIn = true
		}
		w.Write([]byte("<html>login</html>"))
		return
	}

	q := r.URL.Query()

	if q.Get("_do_actions") == "yes" {
		s.actionURLs = append(s.actionURLs, r.URL.String())
		w.Write([]byte("<html>action done</html>"))
		return
	}
	if q.Get("actions") == "yes" && q.Get("filled_in") == "actions" {
		s.transidCounter++
		fmt.Fprintf(w, `<html><input type="hidden" name="_transid" value="%d/1623340800"/></html>`, s.transidCounter)
		return
	}

	if s.requireLogin && !s.loggedIn {
		w.Write([]byte("<html>please log in</html>"))
		return
	}

	switch q.Get("view_name") {
	case "nagstamon_hosts":
		w.Write([]byte(s.hostBody))
	case "nagstamon_svc":
		w.Write([]byte(s.serviceBody))
	default:
		http.NotFound(w, r)
	}
}

func newCheckmkAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	a, err := New(config.BackendConfig{
		Name:         "cmk1",
		Type:         config.TypeCheckmk,
		URL:          url,
		Username:     "admin",
		Password:     "secret",
		ViewHosts:    "nagstamon_hosts",
		ViewServices: "nagstamon_svc",
	}, 5*time.Second, nil)
	require.NoError(t, err)
	return a
}

func TestGetStatus_ParsesHostAndServiceViews(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	snapshot := a.GetStatus(context.Background())

	require.True(t, snapshot.Result.OK(), "cycle should succeed: %s", snapshot.Result.Error)
	assert.Equal(t, 2, snapshot.HostCount())

	web1 := snapshot.Hosts["web1"]
	require.NotNil(t, web1)
	assert.Equal(t, status.HostDown, web1.Status)
	assert.Equal(t, status.StatusTypeHard, web1.StatusType)
	assert.Equal(t, "mysite", web1.Site)
	assert.Equal(t, "10.0.0.1", web1.Address)
	assert.True(t, web1.Acknowledged)

	httpSvc := web1.Services["HTTP"]
	require.NotNil(t, httpSvc)
	assert.Equal(t, status.ServiceCritical, httpSvc.Status, "CRIT abbreviation must be expanded")
	assert.Equal(t, status.StatusTypeSoft, httpSvc.StatusType)
	assert.Equal(t, "HTTP CRITICAL <timeout>", httpSvc.StatusInformation, "HTML entities must be unescaped")
	assert.False(t, httpSvc.PassiveOnly)

	// db1 never appeared in the host view, so it is synthesized as UP
	db1 := snapshot.Hosts["db1"]
	require.NotNil(t, db1)
	assert.Equal(t, status.HostUp, db1.Status)
	assert.Equal(t, "mysite", db1.Site)
	assert.Equal(t, "10.0.0.2", db1.Address)

	backup := db1.Services["Backup"]
	require.NotNil(t, backup)
	assert.Equal(t, status.ServiceWarning, backup.Status)
	assert.True(t, backup.PassiveOnly)
	assert.True(t, backup.ScheduledDowntime)
	assert.True(t, backup.NotificationsDisabled)

	// the row with the malformed attempt is skipped, not fatal
	assert.NotContains(t, db1.Services, "Disk /")
}

func TestGetStatus_ReloginOnceOnExpiredSession(t *testing.T) {
	site := newFakeSite()
	site.requireLogin = true
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	snapshot := a.GetStatus(context.Background())

	require.True(t, snapshot.Result.OK(), "cycle should recover after re-login: %s", snapshot.Result.Error)
	assert.Equal(t, 1, site.logins, "exactly one login attempt per expired session")
	assert.Equal(t, 2, snapshot.HostCount())
	assert.False(t, a.NeedsRelogin())
}

func TestGetStatus_FailedLoginFailsCycle(t *testing.T) {
	site := newFakeSite()
	site.requireLogin = true
	site.rejectLogin = true
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	snapshot := a.GetStatus(context.Background())

	assert.Equal(t, "Login failed", snapshot.Result.Error)
	assert.Equal(t, 401, snapshot.Result.StatusCode)
	assert.Equal(t, 1, site.logins, "no login retry loop")
	assert.Equal(t, 0, snapshot.HostCount())
	assert.True(t, a.NeedsRelogin())
}

func TestGetStatus_WarningBodyIsSoftError(t *testing.T) {
	site := newFakeSite()
	site.hostBody = "WARNING: livestatus channel 2 down\n" + hostPayload
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	snapshot := a.GetStatus(context.Background())

	require.True(t, snapshot.Result.OK())
	assert.Equal(t, "WARNING: livestatus channel 2 down", snapshot.Result.Warning)
	assert.Contains(t, snapshot.Hosts, "web1", "payload after the warning line is still parsed")
}

func TestGetStatus_ErrorBodyFailsCycle(t *testing.T) {
	site := newFakeSite()
	site.serviceBody = "ERROR: invalid view\nsecond line"
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	snapshot := a.GetStatus(context.Background())

	assert.False(t, snapshot.Result.OK())
	assert.Contains(t, snapshot.Result.Error, "ERROR: invalid view")
	assert.Equal(t, 0, snapshot.HostCount())
}

func TestGetStatus_UnreachableFilterParams(t *testing.T) {
	var serviceQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("view_name") == "nagstamon_svc" {
			serviceQuery = r.URL.Query()
		}
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	a, err := New(config.BackendConfig{
		Name:              "cmk1",
		Type:              config.TypeCheckmk,
		URL:               server.URL,
		ViewHosts:         "nagstamon_hosts",
		ViewServices:      "nagstamon_svc",
		FilterUnreachable: true,
		ForceAuthuser:     true,
	}, 5*time.Second, nil)
	require.NoError(t, err)

	snapshot := a.GetStatus(context.Background())
	require.True(t, snapshot.Result.OK())

	assert.Equal(t, "On", serviceQuery.Get("hst0"))
	assert.Equal(t, "On", serviceQuery.Get("hst1"))
	assert.Equal(t, "1", serviceQuery.Get("force_authuser"))
	assert.Equal(t, "-1", serviceQuery.Get("is_service_acknowledged"))
}

func TestAcknowledge_FreshTransidPerAction(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	a.GetStatus(context.Background())

	err := a.Acknowledge(context.Background(), backend.AcknowledgeRequest{
		Host:        "web1",
		Service:     "HTTP",
		Author:      "oncall",
		Comment:     "known issue",
		Sticky:      true,
		AllServices: []string{"SSH", "CPU"},
	})
	require.NoError(t, err)

	require.Len(t, site.actionURLs, 3, "one form action per acknowledged service")
	assert.Equal(t, 3, site.transidCounter, "single-use transaction id fetched per action")

	for i, raw := range site.actionURLs {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, fmt.Sprintf("%d/1623340800", i+1), q.Get("_transid"))
		assert.Equal(t, "web1", q.Get("host"))
		assert.Equal(t, "mysite", q.Get("site"))
		assert.Equal(t, "Acknowledge", q.Get("_acknowledge"))
		assert.Equal(t, "on", q.Get("_ack_sticky"))
		assert.Equal(t, "", q.Get("_ack_notify"))
		assert.Equal(t, "oncall: known issue", q.Get("_ack_comment"))
	}

	q, _ := url.Parse(site.actionURLs[1])
	assert.Equal(t, "SSH", q.Query().Get("service"))
}

func TestAcknowledge_CommentNotAttributedToOwnUser(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	err := a.Acknowledge(context.Background(), backend.AcknowledgeRequest{
		Host:    "web1",
		Service: "HTTP",
		Author:  "admin",
		Comment: "mine",
	})
	require.NoError(t, err)

	require.Len(t, site.actionURLs, 1)
	u, _ := url.Parse(site.actionURLs[0])
	assert.Equal(t, "mine", u.Query().Get("_ack_comment"))
}

func TestSetDowntime_SubmitsTimeRange(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)

	start := time.Date(2021, 6, 10, 12, 0, 0, 0, time.UTC)
	err := a.SetDowntime(context.Background(), backend.DowntimeRequest{
		Host:    "web1",
		Service: "HTTP",
		Author:  "oncall",
		Comment: "maintenance",
		Fixed:   true,
		Start:   start,
		End:     start.Add(2 * time.Hour),
		Hours:   2,
	})
	require.NoError(t, err)

	require.Len(t, site.actionURLs, 1)
	u, _ := url.Parse(site.actionURLs[0])
	q := u.Query()
	assert.Equal(t, "2021-06-10", q.Get("_down_from_date"))
	assert.Equal(t, "12:00", q.Get("_down_from_time"))
	assert.Equal(t, "14:00", q.Get("_down_to_time"))
	assert.Equal(t, "2:00", q.Get("_down_duration"))
	assert.Equal(t, "", q.Get("_down_flexible"), "fixed downtime leaves the flexible flag unset")
	assert.Equal(t, "oncall: maintenance", q.Get("_down_comment"))
}

func TestRecheck_SubmitsRescheduleAction(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	err := a.Recheck(context.Background(), backend.RecheckRequest{Host: "web1", Service: "HTTP"})
	require.NoError(t, err)

	require.Len(t, site.actionURLs, 1)
	u, _ := url.Parse(site.actionURLs[0])
	assert.Equal(t, "Reschedule active checks", u.Query().Get("_resched_checks"))
}

func TestRecheckAll_SingleBulkAction(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	err := a.RecheckAll(context.Background())
	require.NoError(t, err)

	require.Len(t, site.actionURLs, 1)
	assert.Equal(t, 0, site.transidCounter, "bulk reschedule needs no transaction id")
	u, _ := url.Parse(site.actionURLs[0])
	assert.Equal(t, "svcproblems", u.Query().Get("view_name"))
}

func TestHostAddress(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	a.GetStatus(context.Background())

	assert.Equal(t, "10.0.0.1", a.HostAddress("web1"))
	assert.Equal(t, "unseen", a.HostAddress("unseen"), "unknown hosts fall back to the name")

	a.cfg.ConnectByDNS = true
	assert.Equal(t, "web1", a.HostAddress("web1"))
}

func TestMonitorURL_EncodesStartURL(t *testing.T) {
	site := newFakeSite()
	server := httptest.NewServer(http.HandlerFunc(site.handler))
	defer server.Close()

	a := newCheckmkAdapter(t, server.URL)
	a.GetStatus(context.Background())

	assert.Equal(t, server.URL, a.MonitorURL("", ""))
	assert.Equal(t,
		server.URL+"/index.py?start_url=view.py%3Fview_name%3Dhoststatus%26site%3Dmysite%26host%3Dweb1",
		a.MonitorURL("web1", ""))
}
