package auth

import (
	"context"
	"slices"
)

// Wildcard is the allow-list entry that grants every tool.
const Wildcard = "*"

// Provider names, also used as Identity.Provider.
const (
	ProviderAPIKey = "api_key"
	ProviderJWT    = "jwt"
	ProviderOAuth  = "oauth"
	ProviderMTLS   = "mtls"
)

// Identity is the authenticated principal a request is authorized and
// rate-limited for. It is built fresh for every request and never stored.
type Identity struct {
	// ID is stable for a given credential and never empty.
	ID string

	// Name is an optional display name.
	Name string

	// AllowedTools is the tool allow-list.
	// nil means unrestricted, a "*" entry means explicitly unrestricted,
	// and an empty non-nil slice allows nothing.
	AllowedTools []string

	// RateLimit overrides the default requests-per-second quota when > 0.
	RateLimit int

	// Provider is the name of the provider that authenticated the request.
	Provider string

	// Claims carries arbitrary values from the credential.
	Claims map[string]any
}

// Unrestricted reports whether the identity may call any tool.
func (id *Identity) Unrestricted() bool {
	if id == nil {
		return false
	}
	return id.AllowedTools == nil || slices.Contains(id.AllowedTools, Wildcard)
}

// Claim returns a claim value.
func (id *Identity) Claim(key string) (any, bool) {
	if id == nil || id.Claims == nil {
		return nil, false
	}
	v, ok := id.Claims[key]
	return v, ok
}

// DisplayName returns Name, falling back to ID.
func (id *Identity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return id.ID
}

// Clone returns a deep copy of the identity's slices and claims map.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	if id.AllowedTools != nil {
		cp.AllowedTools = slices.Clone(id.AllowedTools)
	}
	if id.Claims != nil {
		cp.Claims = make(map[string]any, len(id.Claims))
		for k, v := range id.Claims {
			cp.Claims[k] = v
		}
	}
	return &cp
}

// normalizeAllowedTools maps an empty configured list to nil (unrestricted)
// and copies anything else.
func normalizeAllowedTools(tools []string) []string {
	if len(tools) == 0 {
		return nil
	}
	return slices.Clone(tools)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying the admitted identity, for
// handlers behind the gateway.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by WithIdentity, or
// nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// IdentityIDFromContext returns the ID of the attached identity, or "".
func IdentityIDFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.ID
	}
	return ""
}
