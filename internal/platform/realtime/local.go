package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event is the envelope LocalHub writes to websocket clients.
type Event struct {
	Type      string          `json:"type"`
	Target    string          `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a websocket client.
type ClientMessage struct {
	Action     string   `json:"action"`
	Identities []string `json:"identities"`
}

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single websocket connection. It receives every message sent
// to any of its identities; the first identity is the connecting user.
type Client struct {
	ID         string
	Identities []string
	Send       chan []byte
	hub        *LocalHub
	conn       Conn
}

// LocalHub is an in-process Channel backed by websocket connections. All
// operations are thread-safe via sync.RWMutex.
type LocalHub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // identity -> set of clients
	all      map[*Client]struct{}
	logger   zerolog.Logger
	wsURL    string
	upgrader gorillawebsocket.Upgrader
}

// NewLocalHub creates a hub. wsURL is the externally reachable address of
// the /ws endpoint, returned from Negotiate.
func NewLocalHub(wsURL string, logger zerolog.Logger) *LocalHub {
	return &LocalHub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
		wsURL:   wsURL,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // development channel; mirrors the negotiate CORS policy
			},
		},
	}
}

// Register adds a client to the hub under its initial identities.
func (h *LocalHub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.hub = h
	h.all[client] = struct{}{}
	for _, id := range client.Identities {
		h.addLocked(client, id)
	}
}

func (h *LocalHub) addLocked(client *Client, id string) {
	if h.clients[id] == nil {
		h.clients[id] = make(map[*Client]struct{})
	}
	h.clients[id][client] = struct{}{}
}

func (h *LocalHub) removeLocked(client *Client, id string) {
	if subscribers, ok := h.clients[id]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, id)
		}
	}
}

// Unregister removes a client from the hub and closes its Send channel.
func (h *LocalHub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, id := range client.Identities {
		h.removeLocked(client, id)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds identities to a registered client, e.g. a shared group id.
func (h *LocalHub) Subscribe(client *Client, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range ids {
		h.addLocked(client, id)
	}
	client.Identities = append(client.Identities, ids...)
}

// Unsubscribe removes identities from a registered client.
func (h *LocalHub) Unsubscribe(client *Client, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removeSet[id] = struct{}{}
		h.removeLocked(client, id)
	}

	remaining := make([]string, 0, len(client.Identities))
	for _, id := range client.Identities {
		if _, rm := removeSet[id]; !rm {
			remaining = append(remaining, id)
		}
	}
	client.Identities = remaining
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *LocalHub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Identities)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Identities)
	}
}

// Send implements Channel. Clients whose buffer is full are skipped.
func (h *LocalHub) Send(_ context.Context, target string, payload []byte) error {
	data, err := json.Marshal(Event{
		Type:      "fhir.event",
		Target:    target,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return fmt.Errorf("local hub: encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[target] {
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn().Str("client", client.ID).Msg("client buffer full, message dropped")
		}
	}
	h.logger.Debug().Str("target", target).Int("clients", delivered).Msg("local hub send")
	return nil
}

// Negotiate returns the websocket URL for userID.
func (h *LocalHub) Negotiate(_ context.Context, userID string) (*ConnectionInfo, error) {
	return &ConnectionInfo{URL: h.wsURL + "?userId=" + url.QueryEscape(userID)}, nil
}

// ClientCount returns the total number of connected clients.
func (h *LocalHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// IdentityCount returns the number of clients registered under id.
func (h *LocalHub) IdentityCount(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[id])
}

// RegisterRoutes registers the websocket endpoint.
func (h *LocalHub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the request, registers the client under the
// userId query parameter and starts the read/write pumps.
func (h *LocalHub) HandleConnect(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:         uuid.New().String(),
		Identities: []string{userID},
		Send:       make(chan []byte, 256),
		conn:       &gorillaConnAdapter{ws},
	}
	h.Register(client)
	h.logger.Info().Str("client", client.ID).Str("user", userID).Msg("websocket client connected")

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

func (h *LocalHub) readPump(client *Client) {
	defer func() {
		h.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.ProcessMessage(client, msg)
	}
}

func (h *LocalHub) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
