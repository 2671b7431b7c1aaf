// internal/transport/client.go - Authenticated HTTP transport shared by all adapters
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const UserAgent = "Nagstamon/4.0 (status aggregation daemon)"

// Options select how a single request is built. The zero value is a plain GET
// returning the raw body.
type Options struct {
	// FormData, when set, turns the request into a POST. With Multipart the
	// payload is encoded as a multipart form (the Checkmk login endpoint
	// requires this), otherwise as application/x-www-form-urlencoded.
	FormData  url.Values
	Multipart bool

	// JSONBody, when non-nil, is marshalled and POSTed as application/json.
	JSONBody interface{}

	Headers map[string]string
}

// Response carries the raw body and status code of one request. Ordinary HTTP
// error codes are passed through here, never converted into a Go error; only
// true transport failures (DNS, refused connection, timeout) surface as errors
// from Fetch.
type Response struct {
	Body       string
	StatusCode int
}

// Client wraps an http.Client with a persistent cookie jar so an adapter's
// session survives across fetch cycles. Each adapter owns exactly one Client;
// it is never shared between backends.
type Client struct {
	httpClient *http.Client
	jar        *cookiejar.Jar
	username   string
	password   string
	insecure   bool
	timeout    time.Duration
}

func NewClient(username, password string, timeout time.Duration, insecureTLS bool) (*Client, error) {
	client := &Client{
		username: username,
		password: password,
		insecure: insecureTLS,
		timeout:  timeout,
	}

	if err := client.ResetSession(); err != nil {
		return nil, err
	}
	return client, nil
}

// ResetSession discards all cookies and rebuilds the underlying http.Client.
// Adapters call this when a backend signals that the session is gone for good.
func (c *Client) ResetSession() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := &http.Transport{}
	if c.insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c.jar = jar
	c.httpClient = &http.Client{
		Jar:       jar,
		Timeout:   c.timeout,
		Transport: transport,
	}
	return nil
}

// Fetch performs one request. The socket-level timeout configured at
// construction bounds the whole call so a dead backend cannot stall a cycle.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (Response, error) {
	req, err := c.buildRequest(ctx, rawURL, opts)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request to %s failed: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("reading response body: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":    redact(rawURL),
		"status": resp.StatusCode,
		"bytes":  len(body),
	}).Debug("Fetched URL")

	return Response{Body: string(body), StatusCode: resp.StatusCode}, nil
}

func (c *Client) buildRequest(ctx context.Context, rawURL string, opts Options) (*http.Request, error) {
	var req *http.Request
	var err error

	switch {
	case opts.JSONBody != nil:
		data, merr := json.Marshal(opts.JSONBody)
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}

	case opts.FormData != nil && opts.Multipart:
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for key, values := range opts.FormData {
			for _, value := range values {
				if werr := writer.WriteField(key, value); werr != nil {
					return nil, fmt.Errorf("failed to write multipart field %s: %w", key, werr)
				}
			}
		}
		if cerr := writer.Close(); cerr != nil {
			return nil, fmt.Errorf("failed to finalize multipart form: %w", cerr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &buf)
		if err == nil {
			req.Header.Set("Content-Type", writer.FormDataContentType())
		}

	case opts.FormData != nil:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
			strings.NewReader(opts.FormData.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return req, nil
}

// Cookies exposes the jar content for one URL so the session store can
// persist it across restarts.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// SetCookies restores previously persisted cookies into the jar.
func (c *Client) SetCookies(rawURL string, cookies []*http.Cookie) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, cookies)
}

// HasCookiePrefix reports whether any cookie for the URL carries the given
// name prefix. Checkmk marks an authenticated session with an "auth_" cookie.
func (c *Client) HasCookiePrefix(rawURL, prefix string) bool {
	for _, cookie := range c.Cookies(rawURL) {
		if strings.HasPrefix(cookie.Name, prefix) {
			return true
		}
	}
	return false
}

// redact strips query parameters from logged URLs; view URLs can carry
// credentials in some setups.
func redact(rawURL string) string {
	if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
		return rawURL[:idx]
	}
	return rawURL
}
