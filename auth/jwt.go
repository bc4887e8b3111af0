package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTMode selects how signing keys are obtained.
type JWTMode string

const (
	// JWTModeSimple verifies HMAC tokens with a shared secret.
	JWTModeSimple JWTMode = "simple"
	// JWTModeJWKS verifies asymmetric tokens with keys from a JWKS endpoint.
	JWTModeJWKS JWTMode = "jwks"
)

var (
	hmacAlgorithms       = []string{"HS256", "HS384", "HS512"}
	asymmetricAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}
)

// JWTConfig configures the JWT provider.
type JWTConfig struct {
	// Mode is "simple" or "jwks".
	Mode JWTMode `yaml:"mode" validate:"required,oneof=simple jwks"`

	// Secret is the HMAC secret (simple mode).
	Secret string `yaml:"secret" validate:"required_if=Mode simple"`

	// JWKSURL is the key-set endpoint (jwks mode).
	JWKSURL string `yaml:"jwks_url" validate:"required_if=Mode jwks,omitempty,url"`

	// Algorithms lists accepted signing algorithms.
	// Default: HS256 (simple), RS256 and ES256 (jwks)
	Algorithms []string `yaml:"algorithms"`

	// CacheTTL is how long JWKS keys stay fresh.
	// Default: 1 hour
	CacheTTL time.Duration `yaml:"cache_duration"`

	// Issuer is the required "iss" claim.
	Issuer string `yaml:"issuer" validate:"required"`

	// Audience is the required "aud" claim.
	Audience string `yaml:"audience" validate:"required"`

	// UserIDClaim names the claim used as Identity.ID.
	// Default: "sub"
	UserIDClaim string `yaml:"user_id_claim"`

	// ScopesClaim names the claim holding granted scopes.
	// Default: "scope"
	ScopesClaim string `yaml:"scopes_claim"`

	// ScopeToolMapping maps scopes to tool names.
	ScopeToolMapping map[string][]string `yaml:"scope_tool_mapping"`

	// Leeway is the clock-skew tolerance for exp, nbf and iat.
	Leeway time.Duration `yaml:"leeway" validate:"gte=0"`
}

// JWTProvider validates signed JWT bearer tokens.
type JWTProvider struct {
	config JWTConfig
	secret []byte
	jwks   *JWKSCache
	parser *jwt.Parser
}

// NewJWTProvider creates a JWT provider. Configuration problems are
// reported as ProviderMisconfigured.
func NewJWTProvider(config JWTConfig, deps Deps) (*JWTProvider, error) {
	if config.UserIDClaim == "" {
		config.UserIDClaim = "sub"
	}
	if config.ScopesClaim == "" {
		config.ScopesClaim = "scope"
	}
	if config.Issuer == "" || config.Audience == "" {
		return nil, Misconfigured("issuer and audience are required").withProvider(ProviderJWT)
	}
	deps = deps.withDefaults(10 * time.Second)

	p := &JWTProvider{config: config}

	switch config.Mode {
	case JWTModeSimple:
		if config.Secret == "" {
			return nil, Misconfigured("secret is required in simple mode").withProvider(ProviderJWT)
		}
		if len(config.Algorithms) == 0 {
			config.Algorithms = []string{"HS256"}
		}
		if err := checkAlgorithms(config.Algorithms, hmacAlgorithms); err != nil {
			return nil, err
		}
		if len(config.Secret) < 32 {
			deps.Logger.Warn(context.Background(), "jwt secret is shorter than 32 bytes")
		}
		p.secret = []byte(config.Secret)

	case JWTModeJWKS:
		if len(config.Algorithms) == 0 {
			config.Algorithms = []string{"RS256", "ES256"}
		}
		if err := checkAlgorithms(config.Algorithms, asymmetricAlgorithms); err != nil {
			return nil, err
		}
		cache, err := NewJWKSCache(JWKSConfig{
			URL:        config.JWKSURL,
			CacheTTL:   config.CacheTTL,
			Algorithms: config.Algorithms,
		}, deps)
		if err != nil {
			return nil, err
		}
		p.jwks = cache

	default:
		return nil, Misconfigured(fmt.Sprintf("unknown mode %q", config.Mode)).withProvider(ProviderJWT)
	}

	p.config = config
	p.parser = jwt.NewParser(
		jwt.WithValidMethods(config.Algorithms),
		jwt.WithIssuer(config.Issuer),
		jwt.WithAudience(config.Audience),
		jwt.WithLeeway(config.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(deps.Now),
	)
	return p, nil
}

func checkAlgorithms(algs, allowed []string) error {
	for _, alg := range algs {
		if !slices.Contains(allowed, alg) {
			return Misconfigured(fmt.Sprintf("algorithm %q not allowed in this mode", alg)).withProvider(ProviderJWT)
		}
	}
	return nil
}

// Name returns "jwt".
func (p *JWTProvider) Name() string {
	return ProviderJWT
}

// JWKS returns the key cache, or nil in simple mode.
func (p *JWTProvider) JWKS() *JWKSCache {
	return p.jwks
}

// Supports reports whether the bearer token is a compact JWS.
func (p *JWTProvider) Supports(creds *Credentials) bool {
	return creds != nil && looksLikeJWT(creds.BearerToken)
}

// Authenticate verifies the token and builds an Identity from its claims.
func (p *JWTProvider) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	if creds == nil || creds.BearerToken == "" {
		return nil, MissingCredential().withProvider(ProviderJWT)
	}

	claims := jwt.MapClaims{}
	if _, err := p.parser.ParseWithClaims(creds.BearerToken, claims, p.keyFunc(ctx)); err != nil {
		return nil, classifyJWTError(err)
	}

	userID, _ := claims[p.config.UserIDClaim].(string)
	if userID == "" {
		return nil, InvalidCredential(fmt.Sprintf("missing %q claim", p.config.UserIDClaim)).withProvider(ProviderJWT)
	}
	name, _ := claims["name"].(string)

	scopes := scopesFromClaim(claims[p.config.ScopesClaim])
	identity := &Identity{
		ID:           userID,
		Name:         name,
		AllowedTools: MapScopesToTools(scopes, p.config.ScopeToolMapping),
		Provider:     ProviderJWT,
		Claims:       make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		identity.Claims[k] = v
	}
	return identity, nil
}

// Run keeps the JWKS cache warm until ctx is done. It returns immediately
// in simple mode.
func (p *JWTProvider) Run(ctx context.Context) error {
	if p.jwks == nil {
		return nil
	}
	return p.jwks.Run(ctx)
}

func (p *JWTProvider) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if p.jwks == nil {
			return p.secret, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, InvalidCredential("token header has no kid").withProvider(ProviderJWT)
		}
		key, alg, err := p.jwks.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != alg {
			return nil, InvalidCredential(fmt.Sprintf("token alg %s does not match key alg %s", t.Method.Alg(), alg)).withProvider(ProviderJWT)
		}
		return key, nil
	}
}

// classifyJWTError maps parser errors onto the auth taxonomy.
func classifyJWTError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.withProvider(ProviderJWT)
	}

	var reason string
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Expired("token expired").withProvider(ProviderJWT)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		reason = "invalid issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		reason = "invalid audience"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		reason = "token not valid yet"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		reason = "required claim missing"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		reason = "invalid signature or algorithm"
	case errors.Is(err, jwt.ErrTokenMalformed):
		reason = "malformed token"
	default:
		reason = err.Error()
	}
	return InvalidCredential(reason).withProvider(ProviderJWT)
}

// looksLikeJWT reports whether token is three dot-separated segments whose
// first segment decodes to a JSON header with an "alg".
func looksLikeJWT(token string) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	header, _, _ := strings.Cut(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	var h struct {
		Alg string `json:"alg"`
	}
	return json.Unmarshal(raw, &h) == nil && h.Alg != ""
}

var _ Provider = (*JWTProvider)(nil)
