package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"
)

// stubProvider records how it was used.
type stubProvider struct {
	name     string
	supports bool
	identity *Identity
	err      error
	calls    int
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) Supports(*Credentials) bool { return s.supports }
func (s *stubProvider) Authenticate(context.Context, *Credentials) (*Identity, error) {
	s.calls++
	return s.identity, s.err
}

func TestResolver_FixedPriority(t *testing.T) {
	oauth := &stubProvider{name: ProviderOAuth, supports: true, identity: &Identity{ID: "oauth-user"}}
	jwtP := &stubProvider{name: ProviderJWT, supports: true, identity: &Identity{ID: "jwt-user"}}
	apiKey := &stubProvider{name: ProviderAPIKey, supports: false}
	mtls := &stubProvider{name: ProviderMTLS, supports: false}

	r := NewResolver(Deps{}, oauth, jwtP, apiKey, mtls)

	var names []string
	for _, p := range r.Providers() {
		names = append(names, p.Name())
	}
	if want := []string{ProviderMTLS, ProviderAPIKey, ProviderJWT, ProviderOAuth}; !slices.Equal(names, want) {
		t.Fatalf("Providers() order = %v, want %v", names, want)
	}

	id, err := r.Resolve(context.Background(), &Credentials{BearerToken: "x"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.ID != "jwt-user" {
		t.Errorf("ID = %q, want jwt-user", id.ID)
	}
	if id.Provider != ProviderJWT {
		t.Errorf("Provider = %q, want jwt", id.Provider)
	}
	if oauth.calls != 0 {
		t.Error("lower-priority provider should not be called")
	}
}

func TestResolver_NoFallThrough(t *testing.T) {
	jwtP := &stubProvider{name: ProviderJWT, supports: true, err: InvalidCredential("bad signature")}
	oauth := &stubProvider{name: ProviderOAuth, supports: true, identity: &Identity{ID: "oauth-user"}}
	r := NewResolver(Deps{}, jwtP, oauth)

	_, err := r.Resolve(context.Background(), &Credentials{BearerToken: "x"})
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidCredential", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Provider != ProviderJWT {
		t.Errorf("error provider = %v, want jwt", err)
	}
	if oauth.calls != 0 {
		t.Error("semantic failure must not fall through to the next provider")
	}
}

func TestResolver_MissingCredential(t *testing.T) {
	r := NewResolver(Deps{}, &stubProvider{name: ProviderJWT})
	for _, creds := range []*Credentials{nil, {}} {
		if _, err := r.Resolve(context.Background(), creds); !errors.Is(err, ErrMissingCredential) {
			t.Errorf("Resolve(%v) error = %v, want ErrMissingCredential", creds, err)
		}
	}
}

func TestResolver_ForeignErrorsAreInternal(t *testing.T) {
	r := NewResolver(Deps{}, &stubProvider{name: "custom", supports: true, err: errors.New("boom")})
	_, err := r.Resolve(context.Background(), &Credentials{})
	if KindOf(err) != KindInternal {
		t.Errorf("KindOf() = %v, want internal", KindOf(err))
	}

	r = NewResolver(Deps{}, &stubProvider{name: "nil", supports: true})
	if _, err := r.Resolve(context.Background(), &Credentials{}); KindOf(err) != KindInternal {
		t.Errorf("nil identity should be internal, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty", cfg: Config{}, wantErr: true},
		{name: "api keys only", cfg: Config{APIKeys: &APIKeyConfig{}}},
		{name: "api keys with oauth and prefix", cfg: Config{APIKeys: &APIKeyConfig{Prefix: "mcp_"}, OAuth: &OAuthConfig{}}},
		{name: "api keys with oauth without prefix", cfg: Config{APIKeys: &APIKeyConfig{}, OAuth: &OAuthConfig{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrProviderMisconfigured) {
				t.Errorf("Validate() error = %v, want ErrProviderMisconfigured", err)
			}
		})
	}
}

func TestBuildResolver(t *testing.T) {
	clock := newTestClock()
	cfg := Config{
		APIKeys: &APIKeyConfig{
			Prefix: "mcp_",
			Keys:   []APIKeyInfo{{ID: "ci-bot", KeyHash: HashAPIKey("mcp_ci")}},
		},
		JWT: &JWTConfig{
			Mode:     JWTModeSimple,
			Secret:   testSecret,
			Issuer:   "https://issuer.example.com",
			Audience: "mcp-gateway",
		},
		MTLS: &MTLSConfig{TrustedProxyIPs: []string{"10.0.0.1"}},
	}

	r, err := BuildResolver(cfg, Deps{Now: clock.Now})
	if err != nil {
		t.Fatalf("BuildResolver() error = %v", err)
	}
	if got := cfg.Enabled(); !slices.Equal(got, []string{ProviderMTLS, ProviderAPIKey, ProviderJWT}) {
		t.Errorf("Enabled() = %v", got)
	}

	jwtToken := signHS256(t, validClaims(clock.Now()), testSecret)

	tests := []struct {
		name     string
		setup    func(*http.Request)
		wantID   string
		provider string
	}{
		{
			name:     "api key header",
			setup:    func(r *http.Request) { r.Header.Set(APIKeyHeader, "mcp_ci") },
			wantID:   "ci-bot",
			provider: ProviderAPIKey,
		},
		{
			name:     "api key bearer",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer mcp_ci") },
			wantID:   "ci-bot",
			provider: ProviderAPIKey,
		},
		{
			name:     "jwt bearer",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+jwtToken) },
			wantID:   "user-123",
			provider: ProviderJWT,
		},
		{
			name: "mtls wins over api key",
			setup: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.1:5555"
				r.Header.Set(HeaderClientCertVerified, "SUCCESS")
				r.Header.Set(HeaderClientCertCN, "edge-proxy-client")
				r.Header.Set(APIKeyHeader, "mcp_ci")
			},
			wantID:   "edge-proxy-client",
			provider: ProviderMTLS,
		},
		{
			name: "untrusted cert headers do not shadow api key",
			setup: func(r *http.Request) {
				r.RemoteAddr = "203.0.113.9:5555"
				r.Header.Set(HeaderClientCertVerified, "SUCCESS")
				r.Header.Set(HeaderClientCertCN, "edge-proxy-client")
				r.Header.Set(APIKeyHeader, "mcp_ci")
			},
			wantID:   "ci-bot",
			provider: ProviderAPIKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			tt.setup(req)
			id, err := r.ResolveRequest(req)
			if err != nil {
				t.Fatalf("ResolveRequest() error = %v", err)
			}
			if id.ID != tt.wantID || id.Provider != tt.provider {
				t.Errorf("identity = %s via %s, want %s via %s", id.ID, id.Provider, tt.wantID, tt.provider)
			}
		})
	}

	t.Run("untrusted cert headers alone are missing credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set(HeaderClientCertVerified, "SUCCESS")
		req.Header.Set(HeaderClientCertCN, "admin")
		if _, err := r.ResolveRequest(req); !errors.Is(err, ErrMissingCredential) {
			t.Errorf("ResolveRequest() error = %v, want ErrMissingCredential", err)
		}
	})

	t.Run("unprefixed opaque token has no provider", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer gho_opaque")
		if _, err := r.ResolveRequest(req); !errors.Is(err, ErrMissingCredential) {
			t.Errorf("ResolveRequest() error = %v, want ErrMissingCredential", err)
		}
	})
}

func TestBuildResolver_Misconfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad api key hash", cfg: Config{APIKeys: &APIKeyConfig{Keys: []APIKeyInfo{{ID: "x", KeyHash: "zz"}}}}},
		{name: "bad jwt", cfg: Config{JWT: &JWTConfig{Mode: JWTModeSimple}}},
		{name: "bad oauth", cfg: Config{OAuth: &OAuthConfig{Provider: OAuthCustom, ClientID: "c"}}},
		{name: "bad mtls", cfg: Config{MTLS: &MTLSConfig{TrustedProxyIPs: []string{"nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildResolver(tt.cfg, Deps{})
			if !errors.Is(err, ErrProviderMisconfigured) {
				t.Errorf("BuildResolver() error = %v, want ErrProviderMisconfigured", err)
			}
		})
	}
}

func TestResolver_RunStopsOnCancel(t *testing.T) {
	r := NewResolver(Deps{}, &stubProvider{name: ProviderAPIKey})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
