// internal/transport/client_test.go
package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("user", "pass", 5*time.Second, false)
	require.NoError(t, err)
	return c
}

func TestFetch_HTTPErrorCodesPassThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newClient(t)
	resp, err := c.Fetch(context.Background(), server.URL, Options{})

	require.NoError(t, err, "an HTTP error code is not a transport failure")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Body, "internal failure")
}

func TestFetch_TransportFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections from now on

	c := newClient(t)
	_, err := c.Fetch(context.Background(), server.URL, Options{})
	require.Error(t, err)
}

func TestFetch_SetsUserAgentAndBasicAuth(t *testing.T) {
	var gotUA, gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotUser, _, _ = r.BasicAuth()
	}))
	defer server.Close()

	c := newClient(t)
	_, err := c.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)

	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "user", gotUser)
}

func TestFetch_URLEncodedForm(t *testing.T) {
	var gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	c := newClient(t)
	_, err := c.Fetch(context.Background(), server.URL, Options{
		FormData: url.Values{"_username": {"admin"}, "_login": {"1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "_login=1&_username=admin", gotBody)
}

func TestFetch_MultipartForm(t *testing.T) {
	var gotUsername, gotPassword string
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotUsername = r.FormValue("_username")
		gotPassword = r.FormValue("_password")
	}))
	defer server.Close()

	c := newClient(t)
	_, err := c.Fetch(context.Background(), server.URL, Options{
		FormData:  url.Values{"_username": {"admin"}, "_password": {"secret"}},
		Multipart: true,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotContentType, "multipart/form-data"))
	assert.Equal(t, "admin", gotUsername)
	assert.Equal(t, "secret", gotPassword)
}

func TestFetch_JSONBody(t *testing.T) {
	var gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	c := newClient(t)
	_, err := c.Fetch(context.Background(), server.URL, Options{
		JSONBody: map[string]string{"comment": "silence"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"comment":"silence"}`, gotBody)
}

func TestCookiesPersistAcrossRequests(t *testing.T) {
	var secondRequestCookie string
	first := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			http.SetCookie(w, &http.Cookie{Name: "auth_site", Value: "token", Path: "/"})
			return
		}
		if cookie, err := r.Cookie("auth_site"); err == nil {
			secondRequestCookie = cookie.Value
		}
	}))
	defer server.Close()

	c := newClient(t)
	_, err := c.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)

	assert.Equal(t, "token", secondRequestCookie)
	assert.True(t, c.HasCookiePrefix(server.URL, "auth_"))
	assert.False(t, c.HasCookiePrefix(server.URL, "session_"))
}

func TestResetSessionDropsCookies(t *testing.T) {
	c := newClient(t)
	c.SetCookies("http://example.com", []*http.Cookie{{Name: "auth_x", Value: "1"}})
	require.True(t, c.HasCookiePrefix("http://example.com", "auth_"))

	require.NoError(t, c.ResetSession())
	assert.False(t, c.HasCookiePrefix("http://example.com", "auth_"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "http://x/view.py", redact("http://x/view.py?_username=a&_secret=b"))
	assert.Equal(t, "http://x/view.py", redact("http://x/view.py"))
}
