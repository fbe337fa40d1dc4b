package realtime

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConnectionString holds the parts of an Azure SignalR / Web PubSub
// connection string: "Endpoint=https://x.service.signalr.net;AccessKey=...;Version=1.0;".
type ConnectionString struct {
	Endpoint  string
	AccessKey string
	Version   string
}

// ParseConnectionString parses the semicolon separated key=value form.
// Keys are case-insensitive; an optional Port overrides the endpoint port.
func ParseConnectionString(s string) (*ConnectionString, error) {
	var cs ConnectionString
	var port string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("connection string: malformed segment %q", part)
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "endpoint":
			cs.Endpoint = strings.TrimSpace(kv[1])
		case "accesskey":
			cs.AccessKey = strings.TrimSpace(kv[1])
		case "version":
			cs.Version = strings.TrimSpace(kv[1])
		case "port":
			port = strings.TrimSpace(kv[1])
		}
	}
	if cs.Endpoint == "" {
		return nil, fmt.Errorf("connection string: Endpoint is required")
	}
	if cs.AccessKey == "" {
		return nil, fmt.Errorf("connection string: AccessKey is required")
	}

	u, err := url.Parse(cs.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("connection string: invalid Endpoint %q", cs.Endpoint)
	}
	if port != "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	cs.Endpoint = u.String()
	return &cs, nil
}

// ClientEndpoint returns the endpoint with its scheme switched to ws/wss.
func (cs *ConnectionString) ClientEndpoint() string {
	switch {
	case strings.HasPrefix(cs.Endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(cs.Endpoint, "https://")
	case strings.HasPrefix(cs.Endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(cs.Endpoint, "http://")
	}
	return cs.Endpoint
}

// SignToken issues an HS256 JWT for audience, signed with the access key.
// userClaim names the claim carrying userID ("sub" for Web PubSub, "nameid"
// for SignalR); it is omitted when userID is empty.
func (cs *ConnectionString) SignToken(audience, userClaim, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if userID != "" && userClaim != "" {
		claims[userClaim] = userID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cs.AccessKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
