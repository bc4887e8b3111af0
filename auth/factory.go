package auth

import (
	"errors"
	"fmt"
)

// Config selects and configures the authentication providers. A nil
// section disables that provider.
type Config struct {
	APIKeys *APIKeyConfig `yaml:"api_keys"`
	JWT     *JWTConfig    `yaml:"jwt"`
	OAuth   *OAuthConfig  `yaml:"oauth"`
	MTLS    *MTLSConfig   `yaml:"mtls"`
}

// Enabled returns the names of the configured providers in resolution
// order.
func (c Config) Enabled() []string {
	var names []string
	if c.MTLS != nil {
		names = append(names, ProviderMTLS)
	}
	if c.APIKeys != nil {
		names = append(names, ProviderAPIKey)
	}
	if c.JWT != nil {
		names = append(names, ProviderJWT)
	}
	if c.OAuth != nil {
		names = append(names, ProviderOAuth)
	}
	return names
}

// Validate checks cross-provider constraints.
func (c Config) Validate() error {
	if len(c.Enabled()) == 0 {
		return Misconfigured("no authentication provider configured")
	}
	// Without a prefix an opaque bearer token could be an API key or an
	// OAuth access token.
	if c.APIKeys != nil && c.OAuth != nil && c.APIKeys.Prefix == "" {
		return Misconfigured("api_keys.prefix is required when oauth is enabled").withProvider(ProviderAPIKey)
	}
	return nil
}

// BuildResolver constructs every configured provider. Any construction
// failure is returned as ProviderMisconfigured so the gateway refuses to
// start.
func BuildResolver(cfg Config, deps Deps) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var providers []Provider

	if cfg.MTLS != nil {
		p, err := NewMTLSProvider(*cfg.MTLS, deps)
		if err != nil {
			return nil, misconfigured(ProviderMTLS, err)
		}
		providers = append(providers, p)
	}

	if cfg.APIKeys != nil {
		store, err := NewMemoryAPIKeyStore(cfg.APIKeys.Keys...)
		if err != nil {
			return nil, misconfigured(ProviderAPIKey, err)
		}
		providers = append(providers, NewAPIKeyProvider(*cfg.APIKeys, store, deps))
	}

	if cfg.JWT != nil {
		p, err := NewJWTProvider(*cfg.JWT, deps)
		if err != nil {
			return nil, misconfigured(ProviderJWT, err)
		}
		providers = append(providers, p)
	}

	if cfg.OAuth != nil {
		p, err := NewOAuthProvider(*cfg.OAuth, deps)
		if err != nil {
			return nil, misconfigured(ProviderOAuth, err)
		}
		providers = append(providers, p)
	}

	return NewResolver(deps, providers...), nil
}

func misconfigured(provider string, err error) error {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindProviderMisconfigured {
		return ae.withProvider(provider)
	}
	return &Error{Kind: KindProviderMisconfigured, Provider: provider, Reason: fmt.Sprintf("build %s provider", provider), Cause: err}
}
