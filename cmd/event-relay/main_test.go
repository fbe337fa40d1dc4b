package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/eventrelay/internal/config"
	"github.com/ehr/eventrelay/internal/platform/credential"
	"github.com/ehr/eventrelay/internal/platform/realtime"
)

func localConfig() *config.Config {
	return &config.Config{
		Port:                  "8000",
		Env:                   "development",
		TenantID:              "tenant",
		ClientID:              "client",
		ClientSecret:          "dev-secret",
		AuthorityHost:         "https://login.microsoftonline.com",
		FHIRService:           "https://fhir.example.com/",
		ChannelMode:           config.ChannelModeLocal,
		SignalRHub:            "signalrfhir",
		SignalRFallbackTarget: "123",
		WebPubSubHub:          "fhircontexttest",
		ClientTokenTTL:        time.Hour,
		TokenCache:            config.TokenCacheMemory,
		TokenRefreshSkew:      2 * time.Minute,
		CORSOrigins:           []string{"*"},
		RateLimitRPS:          100,
		RateLimitBurst:        200,
		BodyLimit:             "4M",
	}
}

func testCreds() credential.Provider {
	return credential.ProviderFunc(func(context.Context) (string, error) { return "tok", nil })
}

func TestBuildChannels_Local(t *testing.T) {
	chans, err := buildChannels(localConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chans.local == nil {
		t.Fatal("expected local hub in local mode")
	}
	if chans.signalR != realtime.Channel(chans.local) || chans.webPubSub != realtime.Channel(chans.local) {
		t.Error("both surfaces should deliver through the local hub")
	}
}

func TestBuildChannels_Azure(t *testing.T) {
	cfg := localConfig()
	cfg.ChannelMode = config.ChannelModeAzure
	cfg.SignalRConnectionString = "Endpoint=https://sr.service.signalr.net;AccessKey=a2V5;Version=1.0;"
	cfg.WebPubSubConnection = "Endpoint=https://ps.webpubsub.azure.com;AccessKey=a2V5;Version=1.0;"

	chans, err := buildChannels(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chans.local != nil {
		t.Error("no local hub expected in azure mode")
	}
	if _, ok := chans.signalR.(*realtime.SignalRChannel); !ok {
		t.Errorf("expected SignalRChannel, got %T", chans.signalR)
	}
	if _, ok := chans.webPubSub.(*realtime.WebPubSubChannel); !ok {
		t.Errorf("expected WebPubSubChannel, got %T", chans.webPubSub)
	}

	cfg.SignalRConnectionString = "garbage"
	if _, err := buildChannels(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid connection string")
	}
}

func TestBuildCredentials_StaticSecret(t *testing.T) {
	for _, cache := range []string{config.TokenCacheMemory, config.TokenCacheNone} {
		cfg := localConfig()
		cfg.TokenCache = cache
		creds, closer, err := buildCredentials(context.Background(), cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", cache, err)
		}
		if _, ok := creds.(*credential.ClientCredentialsProvider); !ok {
			t.Errorf("%s: expected ClientCredentialsProvider, got %T", cache, creds)
		}
		if err := closer(); err != nil {
			t.Errorf("%s: close: %v", cache, err)
		}
	}
}

func TestBuildCredentials_InvalidRedisURL(t *testing.T) {
	cfg := localConfig()
	cfg.TokenCache = config.TokenCacheRedis
	cfg.RedisURL = "://bad"
	if _, _, err := buildCredentials(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestNewServer_Health(t *testing.T) {
	cfg := localConfig()
	chans, _ := buildChannels(cfg, zerolog.Nop())
	e := newServer(cfg, testCreds(), chans, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["mode"] != config.ChannelModeLocal {
		t.Errorf("unexpected health body %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestNewServer_Routes(t *testing.T) {
	cfg := localConfig()
	chans, _ := buildChannels(cfg, zerolog.Nop())
	e := newServer(cfg, testCreds(), chans, zerolog.Nop())

	want := []string{
		"POST /api/FHIREventEndpoint",
		"GET /api/FHIREventEndpoint",
		"POST /api/WebPubSubEndpoint",
		"POST /api/FHIRPostResources",
		"GET /api/PubSubNegotiate",
		"POST /api/negotiate",
		"GET /ws",
		"GET /health",
	}
	have := map[string]bool{}
	for _, r := range e.Routes() {
		have[r.Method+" "+r.Path] = true
	}
	for _, route := range want {
		if !have[route] {
			t.Errorf("expected route %s", route)
		}
	}
}

func TestNewServer_ValidationHandshake(t *testing.T) {
	cfg := localConfig()
	chans, _ := buildChannels(cfg, zerolog.Nop())
	e := newServer(cfg, testCreds(), chans, zerolog.Nop())

	body := `[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"abc"}}]`
	req := httptest.NewRequest(http.MethodPost, "/api/WebPubSubEndpoint", strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"validationResponse":"abc"}` {
		t.Errorf("unexpected body %s", got)
	}
}

func TestNewServer_LocalNegotiate(t *testing.T) {
	cfg := localConfig()
	chans, _ := buildChannels(cfg, zerolog.Nop())
	e := newServer(cfg, testCreds(), chans, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/PubSubNegotiate?userId=P1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["url"] != "ws://localhost:8000/ws?userId=P1" {
		t.Errorf("unexpected url %q", body["url"])
	}
}

func TestNewServer_UnknownRouteUsesErrorEnvelope(t *testing.T) {
	cfg := localConfig()
	chans, _ := buildChannels(cfg, zerolog.Nop())
	e := newServer(cfg, testCreds(), chans, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "Not Found" {
		t.Errorf("unexpected body %v", body)
	}
}
