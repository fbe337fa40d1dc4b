package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// SignalRChannel broadcasts through the Azure SignalR Service REST API.
// The target names the client-side method invoked on every connection of
// the hub, which is how subscribers select the messages addressed to them.
type SignalRChannel struct {
	*service
}

// NewSignalRChannel creates a channel for hub.
func NewSignalRChannel(connStr, hub string, opts ...Option) (*SignalRChannel, error) {
	s, err := newService(connStr, hub, opts)
	if err != nil {
		return nil, fmt.Errorf("signalr: %w", err)
	}
	return &SignalRChannel{service: s}, nil
}

type signalRMessage struct {
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
}

func (c *SignalRChannel) broadcastURL() string {
	return c.conn.Endpoint + "/api/v1/hubs/" + url.PathEscape(c.hub)
}

// Send broadcasts payload as the single argument of the target method.
func (c *SignalRChannel) Send(ctx context.Context, target string, payload []byte) error {
	body, err := json.Marshal(signalRMessage{
		Target:    target,
		Arguments: []json.RawMessage{payload},
	})
	if err != nil {
		return fmt.Errorf("encode signalr message: %w", err)
	}
	return c.post(ctx, c.broadcastURL(), body)
}

// Negotiate returns the client URL and access token for the hub.
func (c *SignalRChannel) Negotiate(_ context.Context, userID string) (*ConnectionInfo, error) {
	clientURL := c.conn.Endpoint + "/client/?hub=" + url.QueryEscape(c.hub)
	token, err := c.conn.SignToken(clientURL, "nameid", userID, c.tokenTTL, c.now())
	if err != nil {
		return nil, err
	}
	return &ConnectionInfo{URL: clientURL, AccessToken: token}, nil
}
