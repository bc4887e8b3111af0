package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/health"
	"github.com/jonwraymond/toolgate/observe"
)

// Routes returns the gateway router. Upstream sits behind the guard at
// /mcp. The OAuth flow is mounted when an OAuth provider is configured,
// and /metrics when a scrape handler was supplied. Health endpoints are
// always present.
func (g *Guard) Routes(upstream http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	health.Mount(r, g.health)
	if g.scrape != nil {
		r.Method(http.MethodGet, "/metrics", g.scrape)
	}

	r.Group(func(r chi.Router) {
		r.Use(g.Middleware)
		r.Handle("/mcp", upstream)
		r.Handle("/mcp/*", upstream)
	})

	if p, ok := g.resolver.Provider(auth.ProviderOAuth); ok {
		if oauth, ok := p.(*auth.OAuthProvider); ok {
			r.Get("/oauth/authorize", g.handleAuthorize(oauth))
			r.Get("/oauth/callback", g.handleCallback(oauth))
		}
	}
	return r
}

// handleAuthorize starts a PKCE authorization attempt bound to the
// caller's address and redirects to the provider.
func (g *Guard) handleAuthorize(p *auth.OAuthProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := auth.CredentialsFromRequest(r).RemoteAddr
		target, _, err := p.AuthorizationURL(clientIP)
		if err != nil {
			g.writeOAuthError(w, r, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

type callbackResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	IdentityID  string `json:"identity_id"`
	Name        string `json:"name,omitempty"`
}

// handleCallback redeems the authorization code and returns the access
// token the client presents as its bearer credential.
func (g *Guard) handleCallback(p *auth.OAuthProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			g.logger.Warn(r.Context(), "authorization denied by provider", observe.Field{Key: "oauth_error", Value: e})
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization denied"})
			return
		}

		clientIP := auth.CredentialsFromRequest(r).RemoteAddr
		token, identity, err := p.Exchange(r.Context(), q.Get("state"), q.Get("code"), clientIP)
		if err != nil {
			g.writeOAuthError(w, r, err)
			return
		}

		resp := callbackResponse{
			AccessToken: token.AccessToken,
			TokenType:   token.Type(),
			IdentityID:  identity.ID,
			Name:        identity.Name,
		}
		if !token.Expiry.IsZero() {
			resp.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
		}
		g.logger.Info(r.Context(), "oauth login",
			observe.Field{Key: "identity_id", Value: identity.ID},
			observe.Field{Key: "success", Value: true},
		)
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	}
}

func (g *Guard) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	ae := auth.AsError(err)
	g.logger.Warn(r.Context(), "oauth flow failed",
		observe.Field{Key: "kind", Value: ae.Kind.String()},
		observe.Field{Key: "reason", Value: ae.Reason},
	)

	status := http.StatusInternalServerError
	switch ae.Kind {
	case auth.KindMissingCredential, auth.KindInvalidCredential, auth.KindExpired:
		status = http.StatusUnauthorized
	case auth.KindUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": ae.PublicMessage()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
