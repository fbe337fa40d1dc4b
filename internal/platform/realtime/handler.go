package realtime

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// DefaultUserID is issued to Web PubSub clients that do not name themselves.
const DefaultUserID = "defaultUser"

// NegotiateHandler serves connection info to subscriber clients.
type NegotiateHandler struct {
	signalR   Negotiator
	webPubSub Negotiator
	logger    zerolog.Logger
}

// NewNegotiateHandler creates the handler. A nil negotiator leaves its route
// unregistered.
func NewNegotiateHandler(signalR, webPubSub Negotiator, logger zerolog.Logger) *NegotiateHandler {
	return &NegotiateHandler{signalR: signalR, webPubSub: webPubSub, logger: logger}
}

func (h *NegotiateHandler) RegisterRoutes(api *echo.Group) {
	if h.webPubSub != nil {
		api.GET("/PubSubNegotiate", h.PubSubNegotiate)
		api.POST("/PubSubNegotiate", h.PubSubNegotiate)
		api.OPTIONS("/PubSubNegotiate", h.preflight)
	}
	if h.signalR != nil {
		api.POST("/negotiate", h.SignalRNegotiate)
		api.OPTIONS("/negotiate", h.preflight)
	}
}

func allowAnyOrigin(c echo.Context) {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderAccessControlAllowOrigin, "*")
	hdr.Set(echo.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
	hdr.Set(echo.HeaderAccessControlAllowHeaders, echo.HeaderContentType)
}

func (h *NegotiateHandler) preflight(c echo.Context) error {
	allowAnyOrigin(c)
	return c.NoContent(http.StatusNoContent)
}

// PubSubNegotiate returns {"url": ...} for the userId query parameter.
func (h *NegotiateHandler) PubSubNegotiate(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		userID = DefaultUserID
	}
	allowAnyOrigin(c)

	info, err := h.webPubSub.Negotiate(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user", userID).Msg("error generating connection info")
		return c.String(http.StatusInternalServerError, "Failed to generate connection info.")
	}
	return c.JSON(http.StatusOK, map[string]string{"url": info.URL})
}

// SignalRNegotiate returns the SignalR client URL and access token. The
// optional userId query parameter becomes the connection's user identity.
func (h *NegotiateHandler) SignalRNegotiate(c echo.Context) error {
	allowAnyOrigin(c)

	info, err := h.signalR.Negotiate(c.Request().Context(), c.QueryParam("userId"))
	if err != nil {
		h.logger.Error().Err(err).Msg("error generating connection info")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, info)
}
