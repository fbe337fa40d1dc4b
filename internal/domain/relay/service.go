package relay

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ehr/eventrelay/internal/platform/credential"
	"github.com/ehr/eventrelay/internal/platform/realtime"
	"github.com/ehr/eventrelay/pkg/fhirmodels"
)

// Surface is one inbound endpoint of the relay with its own channel and
// missing-target policy.
type Surface struct {
	Name           string
	Policy         TargetPolicy
	Channel        realtime.Channel
	SuccessMessage string
	// IncludeDetail adds fhirResource and userId to the success body.
	IncludeDetail bool
}

// Response is the caller-facing outcome of one run.
type Response struct {
	Status int
	Body   interface{}
}

type ValidationResponse struct {
	ValidationResponse string `json:"validationResponse"`
}

type SuccessResponse struct {
	Message       string              `json:"message"`
	ReceivedEvent Notification        `json:"receivedEvent"`
	FHIRResource  fhirmodels.Resource `json:"fhirResource,omitempty"`
	UserID        string              `json:"userId,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Pipeline runs notifications for one surface: handshake, credential,
// resolution, targeting, dispatch.
type Pipeline struct {
	surface    Surface
	creds      credential.Provider
	resolver   *Resolver
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NewPipeline wires a pipeline for surface.
func NewPipeline(surface Surface, creds credential.Provider, fhir Fetcher, logger zerolog.Logger) *Pipeline {
	logger = logger.With().Str("surface", surface.Name).Stringer("target_policy", surface.Policy).Logger()
	return &Pipeline{
		surface:    surface,
		creds:      creds,
		resolver:   NewResolver(fhir, logger),
		dispatcher: NewDispatcher(surface.Channel, logger),
		logger:     logger,
	}
}

// Process handles one inbound body. It never returns an error; failures are
// translated into the response.
func (p *Pipeline) Process(ctx context.Context, body []byte) Response {
	n, rec, err := ParseNotification(body)
	if err != nil {
		return p.fail(err)
	}

	if rec.IsValidation() {
		code, err := rec.ValidationCode()
		if err != nil {
			return p.fail(err)
		}
		p.logger.Info().Str("validation_code", code).Msg("subscription validation handshake")
		return Response{Status: http.StatusOK, Body: ValidationResponse{ValidationResponse: code}}
	}

	p.logger.Info().Str("event_type", rec.EventType).Str("subject", rec.Subject).Msg("event received")

	token, err := p.creds.GetAccessToken(ctx)
	if err != nil {
		return p.fail(err)
	}

	g, err := p.resolver.Resolve(ctx, rec, token)
	if err != nil {
		return p.fail(err)
	}

	payload, err := BuildPayload(n, g)
	if err != nil {
		return p.fail(err)
	}

	target, err := DeriveTarget(g, p.surface.Policy)
	if err != nil {
		return p.fail(err)
	}
	if g.PractitionerID == "" {
		p.logger.Warn().Str("target", target).Msg("no practitioner reference, using fallback target")
	}

	if err := p.dispatcher.Dispatch(ctx, payload, target); err != nil {
		return p.fail(err)
	}

	resp := SuccessResponse{Message: p.surface.SuccessMessage, ReceivedEvent: payload}
	if p.surface.IncludeDetail {
		resp.FHIRResource = g.Primary
		resp.UserID = target
	}
	return Response{Status: http.StatusOK, Body: resp}
}

func (p *Pipeline) fail(err error) Response {
	if errors.Is(err, ErrNoTarget) {
		p.logger.Warn().Msg("no practitioner id found")
		return Response{Status: http.StatusBadRequest, Body: ErrorResponse{Error: "No Practitioner ID found"}}
	}
	p.logger.Error().Err(err).Msg("error processing request")
	return Response{
		Status: http.StatusInternalServerError,
		Body:   ErrorResponse{Error: "Internal Server Error", Message: err.Error()},
	}
}
