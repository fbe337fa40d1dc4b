// Package realtime delivers relay payloads to subscribers over a
// publish/subscribe channel. Azure SignalR Service and Azure Web PubSub are
// driven through their REST APIs; LocalHub serves websockets in-process.
package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const contentTypeJSON = "application/json"

// Channel delivers payload to every session subscribed under target.
// Success means the channel accepted the message, not that any client
// received it.
type Channel interface {
	Send(ctx context.Context, target string, payload []byte) error
}

// ConnectionInfo tells a subscriber client where and how to connect.
type ConnectionInfo struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Negotiator issues connection info for a subscriber.
type Negotiator interface {
	Negotiate(ctx context.Context, userID string) (*ConnectionInfo, error)
}

// DeliveryError is returned when the service rejects a send request.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("realtime send to %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// service carries what the SignalR and Web PubSub REST clients share.
type service struct {
	conn       *ConnectionString
	hub        string
	httpClient *http.Client
	tokenTTL   time.Duration
	now        func() time.Time
}

// Option configures a REST channel.
type Option func(*service)

// WithHTTPClient overrides the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *service) { s.httpClient = c }
}

// WithTokenTTL sets the lifetime of tokens issued to clients.
func WithTokenTTL(d time.Duration) Option {
	return func(s *service) { s.tokenTTL = d }
}

func withClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func newService(connStr, hub string, opts []Option) (*service, error) {
	cs, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	if hub == "" {
		return nil, fmt.Errorf("hub name is required")
	}
	s := &service{
		conn:       cs,
		hub:        hub,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenTTL:   time.Hour,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// post sends an authorised REST request. The service token audience is the
// request URL.
func (s *service) post(ctx context.Context, url string, body []byte) error {
	token, err := s.conn.SignToken(url, "", "", 5*time.Minute, s.now())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("realtime send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DeliveryError{URL: url, StatusCode: resp.StatusCode, Body: string(data)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
