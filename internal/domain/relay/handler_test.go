package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *pipelineFixture, *pipelineFixture, *echo.Echo) {
	sr := newPipelineFixture(t, signalRSurface())
	wps := newPipelineFixture(t, webPubSubSurface())
	return NewHandler(sr.pipeline, wps.pipeline), sr, wps, echo.New()
}

func TestHandler_FHIREvent_Handshake(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	body := `[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"abc"}}]`
	req := httptest.NewRequest(http.MethodPost, "/api/FHIREventEndpoint", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.FHIREvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"validationResponse":"abc"}` {
		t.Errorf("unexpected body %s", got)
	}
}

func TestHandler_FHIREvent_Broadcast(t *testing.T) {
	h, sr, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/FHIREventEndpoint", strings.NewReader(string(sr.event())))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.FHIREvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SuccessResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Message != "Event data broadcasted to SignalR successfully" {
		t.Errorf("unexpected message %s", resp.Message)
	}
	if len(resp.ReceivedEvent) != 5 {
		t.Errorf("expected 5 received entries, got %d", len(resp.ReceivedEvent))
	}
	if len(sr.channel.Sent()) != 1 {
		t.Error("expected one dispatch")
	}
}

func TestHandler_WebPubSubEvent_NoPractitioner(t *testing.T) {
	h, _, wps, e := newTestHandler(t)
	wps.fhir.set("/Encounter/1", `{"resourceType":"Encounter","id":"1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/WebPubSubEndpoint", strings.NewReader(string(wps.event())))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.WebPubSubEvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"No Practitioner ID found"}` {
		t.Errorf("unexpected body %s", got)
	}
}

func TestHandler_MalformedBody(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/FHIREventEndpoint", strings.NewReader(`{"not":"an array"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.FHIREvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error != "Internal Server Error" || resp.Message == "" {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api"))

	want := map[string]bool{
		"GET /api/FHIREventEndpoint":   false,
		"POST /api/FHIREventEndpoint":  false,
		"POST /api/WebPubSubEndpoint": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("expected route %s", route)
		}
	}
}

func TestHandler_RegisterRoutes_SkipsNilSurface(t *testing.T) {
	sr := newPipelineFixture(t, signalRSurface())
	e := echo.New()
	NewHandler(sr.pipeline, nil).RegisterRoutes(e.Group("/api"))
	for _, r := range e.Routes() {
		if r.Path == "/api/WebPubSubEndpoint" {
			t.Error("web pubsub route must not be registered without a pipeline")
		}
	}
}
