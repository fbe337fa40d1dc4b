package relay

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	signalR   *Pipeline
	webPubSub *Pipeline
}

// NewHandler creates the webhook handler. Either pipeline may be nil, in
// which case its route is not registered.
func NewHandler(signalR, webPubSub *Pipeline) *Handler {
	return &Handler{signalR: signalR, webPubSub: webPubSub}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	if h.signalR != nil {
		api.GET("/FHIREventEndpoint", h.FHIREvent)
		api.POST("/FHIREventEndpoint", h.FHIREvent)
	}
	if h.webPubSub != nil {
		api.POST("/WebPubSubEndpoint", h.WebPubSubEvent)
	}
}

// FHIREvent relays an Event Grid notification through the SignalR surface.
func (h *Handler) FHIREvent(c echo.Context) error {
	return h.serve(c, h.signalR)
}

// WebPubSubEvent relays an Event Grid notification to the practitioner's
// Web PubSub user.
func (h *Handler) WebPubSubEvent(c echo.Context) error {
	return h.serve(c, h.webPubSub)
}

func (h *Handler) serve(c echo.Context, p *Pipeline) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Internal Server Error",
			Message: err.Error(),
		})
	}
	resp := p.Process(c.Request().Context(), body)
	return c.JSON(resp.Status, resp.Body)
}
