// Package fhirclient is a small bearer-authenticated client for the
// clinical-data (FHIR) API.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ehr/eventrelay/pkg/fhirmodels"
)

const fhirJSON = "application/fhir+json"

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Response is a raw API response, used by the pass-through proxy.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client reads and writes resources on one FHIR service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets a per-request timeout on the default HTTP client. Zero
// leaves requests unbounded.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.httpClient = &http.Client{Timeout: d} }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResourceURL builds <service>/<kind>/<id>.
func (c *Client) ResourceURL(kind, id string) string {
	return c.baseURL + "/" + kind + "/" + id
}

// Read fetches <service>/<kind>/<id>.
func (c *Client) Read(ctx context.Context, kind, id, token string) (fhirmodels.Resource, error) {
	return c.Get(ctx, c.ResourceURL(kind, id), token)
}

// Get fetches an absolute resource URL.
func (c *Client) Get(ctx context.Context, url, token string) (fhirmodels.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", fhirJSON)
	setBearer(req, token)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// Numbers stay json.Number so that large integers and FHIR decimals
	// re-encode exactly as the service sent them.
	var r fhirmodels.Resource
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return r, nil
}

// Post sends body to <service><route>. Unlike Get, any status is returned
// to the caller rather than converted to an error.
func (c *Client) Post(ctx context.Context, route string, body []byte, token string) (*Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(route, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", fhirJSON)
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if resp != nil {
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The body often carries an OperationOutcome worth surfacing.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return io.ReadAll(resp.Body)
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
