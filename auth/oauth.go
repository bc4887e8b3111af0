package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/resilience"
)

// OAuthProviderType selects a built-in endpoint profile.
type OAuthProviderType string

const (
	OAuthGitHub OAuthProviderType = "github"
	OAuthGoogle OAuthProviderType = "google"
	OAuthOkta   OAuthProviderType = "okta"
	OAuthCustom OAuthProviderType = "custom"
)

const (
	// maxOAuthResponseBytes bounds introspection and userinfo bodies.
	maxOAuthResponseBytes = 16 * 1024

	defaultRedirectURI = "http://localhost:3000/oauth/callback"

	githubUserinfoURL      = "https://api.github.com/user"
	googleUserinfoURL      = "https://openidconnect.googleapis.com/v1/userinfo"
	googleIntrospectionURL = "https://oauth2.googleapis.com/tokeninfo"
)

// OAuthConfig configures the OAuth 2.1 provider.
type OAuthConfig struct {
	// Provider is github, google, okta or custom.
	Provider OAuthProviderType `yaml:"provider" validate:"required,oneof=github google okta custom"`

	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret"`

	// Endpoint overrides. custom requires authorization, token and userinfo.
	AuthorizationURL string `yaml:"authorization_url" validate:"omitempty,url"`
	TokenURL         string `yaml:"token_url" validate:"omitempty,url"`
	UserinfoURL      string `yaml:"userinfo_url" validate:"omitempty,url"`
	IntrospectionURL string `yaml:"introspection_url" validate:"omitempty,url"`

	// OktaDomain derives the okta endpoints, e.g. "dev-123.okta.com".
	OktaDomain string `yaml:"okta_domain" validate:"omitempty,hostname"`

	// RedirectURI is the registered callback URL.
	// Default: http://localhost:3000/oauth/callback
	RedirectURI string `yaml:"redirect_uri" validate:"omitempty,url"`

	// Scopes requested at authorization.
	// Default: openid, profile
	Scopes []string `yaml:"scopes"`

	// UserIDClaim is preferred over "sub" and "id" for Identity.ID.
	// Default: "sub"
	UserIDClaim string `yaml:"user_id_claim"`

	// ScopeToolMapping maps granted scopes to tool names.
	ScopeToolMapping map[string][]string `yaml:"scope_tool_mapping"`

	// TokenCacheTTL bounds how long validated tokens are cached.
	// Default: 5 minutes
	TokenCacheTTL time.Duration `yaml:"token_cache_ttl" validate:"gte=0"`

	// StateTTL and MaxPendingStates bound the PKCE state store.
	// Default: 10 minutes, 1000
	StateTTL         time.Duration `yaml:"state_ttl" validate:"gte=0"`
	MaxPendingStates int           `yaml:"max_pending_states" validate:"gte=0"`
}

// OAuthProvider validates opaque OAuth access tokens and drives the
// authorization code flow with PKCE.
type OAuthProvider struct {
	config           OAuthConfig
	oauth            *oauth2.Config
	userinfoURL      string
	introspectionURL string

	client  *http.Client
	states  *StateStore
	tokens  *TokenInfoCache
	breaker *resilience.Breaker

	logger  observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer
	now     func() time.Time
}

// NewOAuthProvider creates an OAuth provider. Missing endpoints fail with
// ProviderMisconfigured.
func NewOAuthProvider(config OAuthConfig, deps Deps) (*OAuthProvider, error) {
	if config.ClientID == "" {
		return nil, Misconfigured("client_id is required").withProvider(ProviderOAuth)
	}
	if config.RedirectURI == "" {
		config.RedirectURI = defaultRedirectURI
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{"openid", "profile"}
	}
	if config.UserIDClaim == "" {
		config.UserIDClaim = "sub"
	}

	endpoint, userinfo, introspection, err := resolveOAuthEndpoints(config)
	if err != nil {
		return nil, err
	}

	deps = deps.withDefaults(10 * time.Second)
	logger := deps.Logger.With(observe.Field{Key: "provider", Value: ProviderOAuth})

	p := &OAuthProvider{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  config.RedirectURI,
			Scopes:       config.Scopes,
		},
		userinfoURL:      userinfo,
		introspectionURL: introspection,
		client:           deps.HTTPClient,
		states:           NewStateStore(config.StateTTL, config.MaxPendingStates, deps.Now),
		tokens:           NewTokenInfoCache(config.TokenCacheTTL, deps.Now),
		logger:           logger,
		metrics:          deps.Metrics,
		tracer:           deps.Tracer,
		now:              deps.Now,
	}
	p.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Name: "oauth",
		Now:  deps.Now,
		IsFailure: func(err error) bool {
			return KindOf(err) == KindUpstreamUnavailable
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn(context.Background(), "upstream breaker state change",
				observe.Field{Key: "endpoint", Value: name},
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()},
			)
		},
	})
	return p, nil
}

// resolveOAuthEndpoints merges the built-in profile with explicit overrides.
func resolveOAuthEndpoints(config OAuthConfig) (oauth2.Endpoint, string, string, error) {
	var (
		endpoint      oauth2.Endpoint
		userinfo      string
		introspection string
	)

	switch config.Provider {
	case OAuthGitHub:
		endpoint = endpoints.GitHub
		userinfo = githubUserinfoURL
	case OAuthGoogle:
		endpoint = endpoints.Google
		userinfo = googleUserinfoURL
		introspection = googleIntrospectionURL
	case OAuthOkta:
		if config.OktaDomain != "" {
			base := "https://" + strings.TrimSuffix(config.OktaDomain, "/") + "/oauth2/default/v1/"
			endpoint = oauth2.Endpoint{AuthURL: base + "authorize", TokenURL: base + "token"}
			userinfo = base + "userinfo"
			introspection = base + "introspect"
		}
	case OAuthCustom:
	default:
		return endpoint, "", "", Misconfigured(fmt.Sprintf("unknown oauth provider %q", config.Provider)).withProvider(ProviderOAuth)
	}

	if config.AuthorizationURL != "" {
		endpoint.AuthURL = config.AuthorizationURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.UserinfoURL != "" {
		userinfo = config.UserinfoURL
	}
	if config.IntrospectionURL != "" {
		introspection = config.IntrospectionURL
	}

	var missing []string
	if endpoint.AuthURL == "" {
		missing = append(missing, "authorization_url")
	}
	if endpoint.TokenURL == "" {
		missing = append(missing, "token_url")
	}
	if userinfo == "" {
		missing = append(missing, "userinfo_url")
	}
	if len(missing) > 0 {
		return endpoint, "", "", Misconfigured(fmt.Sprintf("%s profile requires %s", config.Provider, strings.Join(missing, ", "))).withProvider(ProviderOAuth)
	}
	return endpoint, userinfo, introspection, nil
}

// Name returns "oauth".
func (p *OAuthProvider) Name() string {
	return ProviderOAuth
}

// Supports reports whether a bearer token is present.
func (p *OAuthProvider) Supports(creds *Credentials) bool {
	return creds != nil && creds.BearerToken != ""
}

// States returns the PKCE state store.
func (p *OAuthProvider) States() *StateStore {
	return p.states
}

// Tokens returns the validated-token cache.
func (p *OAuthProvider) Tokens() *TokenInfoCache {
	return p.tokens
}

// Breaker returns the breaker guarding the introspection and userinfo
// endpoints.
func (p *OAuthProvider) Breaker() *resilience.Breaker {
	return p.breaker
}

// GeneratePKCE returns a fresh code verifier and its S256 challenge.
func GeneratePKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthorizationURL starts an authorization attempt for clientIP and
// returns the URL to redirect to along with its state value.
func (p *OAuthProvider) AuthorizationURL(clientIP netip.Addr) (string, string, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	if err := p.states.Put(state, PendingAuthorization{Verifier: verifier, ClientIP: clientIP}); err != nil {
		return "", "", err
	}
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), state, nil
}

// Exchange completes the callback: it consumes state, redeems code with
// the stored verifier and resolves the issued token.
func (p *OAuthProvider) Exchange(ctx context.Context, state, code string, clientIP netip.Addr) (*oauth2.Token, *Identity, error) {
	if state == "" || code == "" {
		return nil, nil, MissingCredential().withProvider(ProviderOAuth)
	}
	pending, err := p.states.Take(state, clientIP)
	if err != nil {
		return nil, nil, err
	}

	ctx, span := p.tracer.StartSpan(ctx, observe.SpanOAuthExchange)
	start := time.Now()
	token, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.client), code, oauth2.VerifierOption(pending.Verifier))
	p.metrics.RecordUpstream(ctx, "oauth_token", time.Since(start), err)
	p.tracer.EndSpan(span, err)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return nil, nil, InvalidCredential(fmt.Sprintf("code exchange rejected: %s", re.ErrorCode)).withProvider(ProviderOAuth)
		}
		return nil, nil, UpstreamUnavailable("code exchange failed", err).withProvider(ProviderOAuth)
	}

	identity, err := p.Authenticate(ctx, &Credentials{BearerToken: token.AccessToken})
	if err != nil {
		return nil, nil, err
	}
	return token, identity, nil
}

// Authenticate validates the bearer token, consulting the token cache
// before introspection or userinfo.
func (p *OAuthProvider) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	if creds == nil || creds.BearerToken == "" {
		return nil, MissingCredential().withProvider(ProviderOAuth)
	}

	info, err := p.validate(ctx, creds.BearerToken)
	if err != nil {
		return nil, err
	}
	if info.UserID == "" {
		return nil, InvalidCredential("token info has no user id").withProvider(ProviderOAuth)
	}

	claims := make(map[string]any, len(info.Claims)+1)
	for k, v := range info.Claims {
		claims[k] = v
	}
	claims["auth_method"] = ProviderOAuth

	return &Identity{
		ID:           info.UserID,
		Name:         info.Username,
		AllowedTools: MapScopesToTools(info.Scopes, p.config.ScopeToolMapping),
		Provider:     ProviderOAuth,
		Claims:       claims,
	}, nil
}

func (p *OAuthProvider) validate(ctx context.Context, token string) (TokenInfo, error) {
	if info, ok := p.tokens.Get(token); ok {
		return info, p.checkActive(info)
	}

	ctx, span := p.tracer.StartSpan(ctx, observe.SpanOAuthLookup,
		attribute.Bool("oauth.introspection", p.introspectionURL != ""))
	info, err := p.lookup(ctx, token)
	p.tracer.EndSpan(span, err)
	if err != nil {
		return TokenInfo{}, err
	}

	p.tokens.Put(token, info)
	return info, p.checkActive(info)
}

func (p *OAuthProvider) checkActive(info TokenInfo) error {
	if !info.Active {
		return Expired("token inactive").withProvider(ProviderOAuth)
	}
	if info.expiredAt(p.now()) {
		return Expired("token expired").withProvider(ProviderOAuth)
	}
	return nil
}

// lookup prefers introspection and falls back to userinfo on any
// introspection error.
func (p *OAuthProvider) lookup(ctx context.Context, token string) (TokenInfo, error) {
	if p.introspectionURL != "" {
		info, err := p.introspect(ctx, token)
		if err == nil {
			return info, nil
		}
		p.logger.Debug(ctx, "introspection failed, falling back to userinfo", observe.Field{Key: "error", Value: err})
	}
	return p.userinfo(ctx, token)
}

func (p *OAuthProvider) introspect(ctx context.Context, token string) (TokenInfo, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenInfo{}, Internal("create introspection request", err).withProvider(ProviderOAuth)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.config.ClientSecret != "" {
		req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
	}

	status, body, err := p.do(ctx, "oauth_introspection", req)
	if err != nil {
		return TokenInfo{}, err
	}
	if status != http.StatusOK {
		return TokenInfo{}, UpstreamUnavailable(fmt.Sprintf("introspection endpoint returned %d", status), nil).withProvider(ProviderOAuth)
	}

	info, err := parseTokenInfo(body, p.config.UserIDClaim)
	if err != nil {
		return TokenInfo{}, UpstreamUnavailable("invalid introspection response", err).withProvider(ProviderOAuth)
	}
	return info, nil
}

func (p *OAuthProvider) userinfo(ctx context.Context, token string) (TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return TokenInfo{}, Internal("create userinfo request", err).withProvider(ProviderOAuth)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(ctx, "oauth_userinfo", req)
	if err != nil {
		return TokenInfo{}, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return TokenInfo{}, Expired("userinfo rejected token").withProvider(ProviderOAuth)
	case status != http.StatusOK:
		return TokenInfo{}, UpstreamUnavailable(fmt.Sprintf("userinfo endpoint returned %d", status), nil).withProvider(ProviderOAuth)
	}

	info, err := parseTokenInfo(body, p.config.UserIDClaim)
	if err != nil {
		return TokenInfo{}, UpstreamUnavailable("invalid userinfo response", err).withProvider(ProviderOAuth)
	}
	// userinfo has no "active"; a 200 means the token is live.
	info.Active = true
	return info, nil
}

// do sends req through the breaker and reads at most
// maxOAuthResponseBytes of the body.
func (p *OAuthProvider) do(ctx context.Context, endpoint string, req *http.Request) (int, []byte, error) {
	var (
		status int
		body   []byte
	)
	start := time.Now()
	err := p.breaker.Execute(ctx, func(context.Context) error {
		resp, err := p.client.Do(req)
		if err != nil {
			return UpstreamUnavailable(endpoint+" request failed", err).withProvider(ProviderOAuth)
		}
		defer func() { _ = resp.Body.Close() }()

		status = resp.StatusCode
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxOAuthResponseBytes+1))
		if err != nil {
			return UpstreamUnavailable(endpoint+" read failed", err).withProvider(ProviderOAuth)
		}
		if len(body) > maxOAuthResponseBytes {
			p.logger.Warn(ctx, "oversized oauth response", observe.Field{Key: "endpoint", Value: endpoint})
			return UpstreamUnavailable(fmt.Sprintf("%s response exceeds %d bytes", endpoint, maxOAuthResponseBytes), nil).withProvider(ProviderOAuth)
		}
		if status >= 500 {
			return UpstreamUnavailable(fmt.Sprintf("%s returned %d", endpoint, status), nil).withProvider(ProviderOAuth)
		}
		return nil
	})
	p.metrics.RecordUpstream(ctx, endpoint, time.Since(start), err)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return 0, nil, UpstreamUnavailable(endpoint+" circuit open", err).withProvider(ProviderOAuth)
	}
	return status, body, err
}

var _ Provider = (*OAuthProvider)(nil)
