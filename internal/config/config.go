package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ChannelModeAzure = "azure"
	ChannelModeLocal = "local"

	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
	TokenCacheNone   = "none"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	KeyVaultURL    string `mapstructure:"KEY_VAULT_STRING"`
	KeyVaultSecret string `mapstructure:"KEY_VAULT_SECRET"`
	TenantID       string `mapstructure:"AZURE_TENANT_ID"`
	ClientID       string `mapstructure:"AZURE_CLIENT_ID"`
	ClientSecret   string `mapstructure:"AZURE_CLIENT_SECRET"`
	AuthorityHost  string `mapstructure:"AUTHORITY_HOST"`

	FHIRService string        `mapstructure:"FHIR_SERVICE"`
	FHIRTimeout time.Duration `mapstructure:"FHIR_TIMEOUT"`

	ChannelMode             string        `mapstructure:"CHANNEL_MODE"`
	SignalRConnectionString string        `mapstructure:"SIGNALR_CONNECTION_STRING"`
	SignalRHub              string        `mapstructure:"SIGNALR_HUB"`
	SignalRFallbackTarget   string        `mapstructure:"SIGNALR_FALLBACK_TARGET"`
	WebPubSubConnection     string        `mapstructure:"WEBPUBSUB_CONNECTION_STRING"`
	WebPubSubHub            string        `mapstructure:"WEBPUBSUB_HUB"`
	ClientTokenTTL          time.Duration `mapstructure:"CLIENT_TOKEN_TTL"`
	LocalWSURL              string        `mapstructure:"LOCAL_WS_URL"`

	TokenCache       string        `mapstructure:"TOKEN_CACHE"`
	TokenRefreshSkew time.Duration `mapstructure:"TOKEN_REFRESH_SKEW"`
	RedisURL         string        `mapstructure:"REDIS_URL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTHORITY_HOST", "https://login.microsoftonline.com")
	v.SetDefault("FHIR_TIMEOUT", "0s")
	v.SetDefault("CHANNEL_MODE", ChannelModeAzure)
	v.SetDefault("SIGNALR_HUB", "signalrfhir")
	v.SetDefault("SIGNALR_FALLBACK_TARGET", "123")
	v.SetDefault("WEBPUBSUB_HUB", "fhircontexttest")
	v.SetDefault("CLIENT_TOKEN_TTL", "1h")
	v.SetDefault("TOKEN_CACHE", TokenCacheMemory)
	v.SetDefault("TOKEN_REFRESH_SKEW", "2m")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "4M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV",
		"KEY_VAULT_STRING", "KEY_VAULT_SECRET", "AZURE_TENANT_ID", "AZURE_CLIENT_ID",
		"AZURE_CLIENT_SECRET", "AUTHORITY_HOST",
		"FHIR_SERVICE", "FHIR_TIMEOUT",
		"CHANNEL_MODE", "SIGNALR_CONNECTION_STRING", "SIGNALR_HUB", "SIGNALR_FALLBACK_TARGET",
		"WEBPUBSUB_HUB", "CLIENT_TOKEN_TTL", "LOCAL_WS_URL",
		"TOKEN_CACHE", "TOKEN_REFRESH_SKEW", "REDIS_URL",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	} {
		_ = v.BindEnv(key)
	}
	// The function app setting name is still accepted.
	_ = v.BindEnv("WEBPUBSUB_CONNECTION_STRING", "WEBPUBSUB_CONNECTION_STRING", "WebPubSubConnectionString")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.FHIRService == "" {
		return nil, fmt.Errorf("FHIR_SERVICE is required")
	}

	if cfg.IsDev() && cfg.ClientSecret != "" {
		log.Println("WARNING: AZURE_CLIENT_SECRET is set; Key Vault lookup is bypassed.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// WebSocketURL is the address handed to local-mode subscribers.
func (c *Config) WebSocketURL() string {
	if c.LocalWSURL != "" {
		return c.LocalWSURL
	}
	return "ws://localhost:" + c.Port + "/ws"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TokenURL is the tenant's OAuth2 token endpoint.
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.AuthorityHost, "/") + "/" + c.TenantID + "/oauth2/token"
}

// UsesKeyVault reports whether the client secret is read from Key Vault
// rather than taken from AZURE_CLIENT_SECRET.
func (c *Config) UsesKeyVault() bool {
	return c.ClientSecret == "" || c.IsProduction()
}

// Validate checks that the configuration is complete for the selected
// channel mode and token cache.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("AZURE_TENANT_ID is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("AZURE_CLIENT_ID is required")
	}
	if c.UsesKeyVault() {
		if c.KeyVaultURL == "" || c.KeyVaultSecret == "" {
			return fmt.Errorf("KEY_VAULT_STRING and KEY_VAULT_SECRET are required unless AZURE_CLIENT_SECRET is set outside production")
		}
	}

	switch c.ChannelMode {
	case ChannelModeAzure:
		if c.SignalRConnectionString == "" {
			return fmt.Errorf("SIGNALR_CONNECTION_STRING is required when CHANNEL_MODE is %q", ChannelModeAzure)
		}
		if c.WebPubSubConnection == "" {
			return fmt.Errorf("WEBPUBSUB_CONNECTION_STRING is required when CHANNEL_MODE is %q", ChannelModeAzure)
		}
	case ChannelModeLocal:
	default:
		return fmt.Errorf("CHANNEL_MODE must be %q or %q, got %q", ChannelModeAzure, ChannelModeLocal, c.ChannelMode)
	}

	switch c.TokenCache {
	case TokenCacheMemory, TokenCacheNone:
	case TokenCacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when TOKEN_CACHE is %q", TokenCacheRedis)
		}
	default:
		return fmt.Errorf("TOKEN_CACHE must be %q, %q, or %q, got %q", TokenCacheMemory, TokenCacheRedis, TokenCacheNone, c.TokenCache)
	}

	if c.TokenRefreshSkew < 0 {
		return fmt.Errorf("TOKEN_REFRESH_SKEW must not be negative")
	}
	return nil
}
