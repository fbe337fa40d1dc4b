// Package credential obtains bearer tokens for the clinical-data API. A
// client secret is read from a secret store and exchanged through the OAuth2
// client-credentials grant; the resulting token is cached until shortly
// before it expires.
package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Provider yields an access token usable against the clinical-data API.
type Provider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// ProviderFunc is a function adapter for Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) GetAccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// SecretStore reads a named secret.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// StaticSecretStore returns the same secret for every name. Used when
// AZURE_CLIENT_SECRET is configured directly, and in tests.
type StaticSecretStore string

func (s StaticSecretStore) GetSecret(_ context.Context, _ string) (string, error) {
	return string(s), nil
}

// Token is an access token and its expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// ClientCredentialsConfig describes the OAuth2 exchange.
type ClientCredentialsConfig struct {
	TenantID   string
	ClientID   string
	SecretName string
	TokenURL   string
	// Resource is the audience of the requested token, i.e. the FHIR service URL.
	Resource string
}

// ClientCredentialsProvider implements Provider with a secret-store lookup
// followed by an OAuth2 client-credentials exchange.
type ClientCredentialsProvider struct {
	cfg        ClientCredentialsConfig
	secrets    SecretStore
	httpClient *http.Client
	cache      TokenCache
	skew       time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	group      singleflight.Group
}

// Option configures a ClientCredentialsProvider.
type Option func(*ClientCredentialsProvider)

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(p *ClientCredentialsProvider) { p.httpClient = c }
}

// WithCache sets the token cache. Pass NopCache{} to fetch on every call.
func WithCache(c TokenCache) Option {
	return func(p *ClientCredentialsProvider) { p.cache = c }
}

// WithRefreshSkew sets how long before expiry a cached token is refreshed.
func WithRefreshSkew(d time.Duration) Option {
	return func(p *ClientCredentialsProvider) { p.skew = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *ClientCredentialsProvider) { p.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(p *ClientCredentialsProvider) { p.now = now }
}

// NewClientCredentialsProvider creates a provider. Without options it
// caches tokens in memory and refreshes two minutes before expiry.
func NewClientCredentialsProvider(cfg ClientCredentialsConfig, secrets SecretStore, opts ...Option) *ClientCredentialsProvider {
	p := &ClientCredentialsProvider{
		cfg:     cfg,
		secrets: secrets,
		cache:   NewMemoryCache(),
		skew:    2 * time.Minute,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *ClientCredentialsProvider) cacheKey() string {
	return "relay:token:" + p.cfg.TenantID + ":" + p.cfg.ClientID
}

func (p *ClientCredentialsProvider) fresh(tok Token) bool {
	if tok.AccessToken == "" || tok.Expiry.IsZero() {
		return false
	}
	return p.now().Add(p.skew).Before(tok.Expiry)
}

// GetAccessToken returns a cached token when it is still fresh, otherwise
// performs the secret lookup and token exchange. Concurrent misses share a
// single exchange, which is detached from the caller's cancellation.
func (p *ClientCredentialsProvider) GetAccessToken(ctx context.Context) (string, error) {
	key := p.cacheKey()

	tok, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Msg("token cache read failed")
	} else if ok && p.fresh(tok) {
		return tok.AccessToken, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		tok, err := p.exchange(shared)
		if err != nil {
			return nil, err
		}
		if err := p.cache.Set(shared, key, tok); err != nil {
			p.logger.Warn().Err(err).Msg("token cache write failed")
		}
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(Token).AccessToken, nil
}

func (p *ClientCredentialsProvider) exchange(ctx context.Context) (Token, error) {
	secret, err := p.secrets.GetSecret(ctx, p.cfg.SecretName)
	if err != nil {
		return Token{}, fmt.Errorf("get client secret: %w", err)
	}

	cc := clientcredentials.Config{
		ClientID:       p.cfg.ClientID,
		ClientSecret:   secret,
		TokenURL:       p.cfg.TokenURL,
		EndpointParams: url.Values{"resource": {p.cfg.Resource}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	t, err := cc.Token(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("exchange client credentials: %w", err)
	}

	p.logger.Debug().
		Str("client_id", p.cfg.ClientID).
		Time("expiry", t.Expiry).
		Msg("access token acquired")

	return Token{AccessToken: t.AccessToken, Expiry: t.Expiry}, nil
}
