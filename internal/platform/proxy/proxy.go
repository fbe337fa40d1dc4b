// Package proxy forwards client-authored FHIR resources to the clinical-data
// API under the relay's own service credential.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/eventrelay/internal/platform/credential"
	"github.com/ehr/eventrelay/internal/platform/fhirclient"
)

// Poster posts a body to a route of the clinical-data API.
type Poster interface {
	Post(ctx context.Context, route string, body []byte, token string) (*fhirclient.Response, error)
}

type Handler struct {
	fhir   Poster
	creds  credential.Provider
	logger zerolog.Logger
}

func NewHandler(fhir Poster, creds credential.Provider, logger zerolog.Logger) *Handler {
	return &Handler{fhir: fhir, creds: creds, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/FHIRPostResources", h.PostResource)
	api.POST("/FHIRPostResources", h.PostResource)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// PostResource POSTs the request body to <FHIR service><route> and relays
// the upstream status and body unchanged.
func (h *Handler) PostResource(c echo.Context) error {
	route := c.QueryParam("route")
	if route == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Bad Request", Message: "route query parameter is required"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Bad Request", Message: "request body must be JSON"})
	}

	ctx := c.Request().Context()
	token, err := h.creds.GetAccessToken(ctx)
	if err != nil {
		return h.fail(c, route, err)
	}

	resp, err := h.fhir.Post(ctx, route, body, token)
	if err != nil {
		return h.fail(c, route, err)
	}

	h.logger.Info().Str("route", route).Int("status", resp.StatusCode).Msg("resource forwarded")
	contentType := resp.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(resp.StatusCode, contentType, resp.Body)
}

func (h *Handler) fail(c echo.Context, route string, err error) error {
	h.logger.Error().Err(err).Str("route", route).Msg("forward resource failed")
	return c.JSON(http.StatusInternalServerError, errorBody{Error: "Internal Server Error", Message: err.Error()})
}
