package main

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/eventrelay/internal/config"
	"github.com/ehr/eventrelay/internal/domain/relay"
	"github.com/ehr/eventrelay/internal/platform/credential"
	"github.com/ehr/eventrelay/internal/platform/fhirclient"
	"github.com/ehr/eventrelay/internal/platform/middleware"
	"github.com/ehr/eventrelay/internal/platform/proxy"
	"github.com/ehr/eventrelay/internal/platform/realtime"
)

// channels are the delivery and negotiation endpoints of both surfaces.
type channels struct {
	signalR             realtime.Channel
	signalRNegotiator   realtime.Negotiator
	webPubSub           realtime.Channel
	webPubSubNegotiator realtime.Negotiator
	// local is set in local mode; it serves /ws.
	local *realtime.LocalHub
}

func buildChannels(cfg *config.Config, logger zerolog.Logger) (*channels, error) {
	if cfg.ChannelMode == config.ChannelModeLocal {
		hub := realtime.NewLocalHub(cfg.WebSocketURL(), logger.With().Str("component", "local_hub").Logger())
		return &channels{
			signalR:             hub,
			signalRNegotiator:   hub,
			webPubSub:           hub,
			webPubSubNegotiator: hub,
			local:               hub,
		}, nil
	}

	opts := []realtime.Option{realtime.WithTokenTTL(cfg.ClientTokenTTL)}
	sr, err := realtime.NewSignalRChannel(cfg.SignalRConnectionString, cfg.SignalRHub, opts...)
	if err != nil {
		return nil, err
	}
	wps, err := realtime.NewWebPubSubChannel(cfg.WebPubSubConnection, cfg.WebPubSubHub, opts...)
	if err != nil {
		return nil, err
	}
	return &channels{
		signalR:             sr,
		signalRNegotiator:   sr,
		webPubSub:           wps,
		webPubSubNegotiator: wps,
	}, nil
}

// buildCredentials returns the FHIR token provider and a func releasing
// its cache connection.
func buildCredentials(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (credential.Provider, func() error, error) {
	noop := func() error { return nil }

	var secrets credential.SecretStore
	if cfg.UsesKeyVault() {
		kv, err := credential.NewKeyVaultStore(cfg.KeyVaultURL)
		if err != nil {
			return nil, noop, err
		}
		secrets = kv
	} else {
		secrets = credential.StaticSecretStore(cfg.ClientSecret)
	}

	opts := []credential.Option{
		credential.WithRefreshSkew(cfg.TokenRefreshSkew),
		credential.WithLogger(logger.With().Str("component", "credential").Logger()),
	}
	closer := noop
	switch cfg.TokenCache {
	case config.TokenCacheNone:
		opts = append(opts, credential.WithCache(credential.NopCache{}))
	case config.TokenCacheRedis:
		rc, err := credential.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		if err := rc.Ping(ctx); err != nil {
			// Reads fall back to the token endpoint while Redis is down.
			logger.Warn().Err(err).Msg("redis token cache unreachable")
		}
		opts = append(opts, credential.WithCache(rc))
		closer = rc.Close
	}

	provider := credential.NewClientCredentialsProvider(credential.ClientCredentialsConfig{
		TenantID:   cfg.TenantID,
		ClientID:   cfg.ClientID,
		SecretName: cfg.KeyVaultSecret,
		TokenURL:   cfg.TokenURL(),
		Resource:   cfg.FHIRService,
	}, secrets, opts...)
	return provider, closer, nil
}

func newServer(cfg *config.Config, creds credential.Provider, chans *channels, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "Aeg-Event-Type"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	fhir := fhirclient.NewClient(cfg.FHIRService, fhirclient.WithTimeout(cfg.FHIRTimeout))

	signalR := relay.NewPipeline(relay.Surface{
		Name:           "signalr",
		Policy:         relay.Fallback(cfg.SignalRFallbackTarget),
		Channel:        chans.signalR,
		SuccessMessage: "Event data broadcasted to SignalR successfully",
	}, creds, fhir, logger)
	webPubSub := relay.NewPipeline(relay.Surface{
		Name:           "webpubsub",
		Policy:         relay.Reject(),
		Channel:        chans.webPubSub,
		SuccessMessage: "Event and FHIR resource successfully sent to the practitioner group",
		IncludeDetail:  true,
	}, creds, fhir, logger)

	api := e.Group("/api", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	relay.NewHandler(signalR, webPubSub).RegisterRoutes(api)
	proxy.NewHandler(fhir, creds, logger).RegisterRoutes(api)
	realtime.NewNegotiateHandler(chans.signalRNegotiator, chans.webPubSubNegotiator, logger).RegisterRoutes(api)

	if chans.local != nil {
		chans.local.RegisterRoutes(e)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"mode":    cfg.ChannelMode,
		})
	})

	logger.Debug().Str("fhir_service", fhir.BaseURL()).Int("routes", len(e.Routes())).Msg("server configured")
	return e
}
