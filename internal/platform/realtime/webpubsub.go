package realtime

import (
	"context"
	"fmt"
	"net/url"
)

const webPubSubAPIVersion = "2024-01-01"

// WebPubSubChannel sends to a user through the Azure Web PubSub REST API.
// Every connection authenticated as the user receives the message.
type WebPubSubChannel struct {
	*service
}

// NewWebPubSubChannel creates a channel for hub.
func NewWebPubSubChannel(connStr, hub string, opts ...Option) (*WebPubSubChannel, error) {
	s, err := newService(connStr, hub, opts)
	if err != nil {
		return nil, fmt.Errorf("web pubsub: %w", err)
	}
	return &WebPubSubChannel{service: s}, nil
}

func (c *WebPubSubChannel) sendToUserURL(userID string) string {
	return c.conn.Endpoint + "/api/hubs/" + url.PathEscape(c.hub) +
		"/users/" + url.PathEscape(userID) + "/:send?api-version=" + webPubSubAPIVersion
}

// Send delivers payload as a JSON message to every connection of target.
func (c *WebPubSubChannel) Send(ctx context.Context, target string, payload []byte) error {
	if target == "" {
		return fmt.Errorf("web pubsub: user id is required")
	}
	return c.post(ctx, c.sendToUserURL(target), payload)
}

// Negotiate returns a client access URL carrying a token for userID.
func (c *WebPubSubChannel) Negotiate(_ context.Context, userID string) (*ConnectionInfo, error) {
	path := "/client/hubs/" + url.PathEscape(c.hub)
	token, err := c.conn.SignToken(c.conn.Endpoint+path, "sub", userID, c.tokenTTL, c.now())
	if err != nil {
		return nil, err
	}
	return &ConnectionInfo{
		URL: c.conn.ClientEndpoint() + path + "?access_token=" + url.QueryEscape(token),
	}, nil
}
