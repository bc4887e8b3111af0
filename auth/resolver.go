package auth

import (
	"context"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolgate/observe"
)

// providerPriority is the fixed resolution order. It does not depend on
// the order providers are configured in.
var providerPriority = []string{ProviderMTLS, ProviderAPIKey, ProviderJWT, ProviderOAuth}

func priorityOf(name string) int {
	if i := slices.Index(providerPriority, name); i >= 0 {
		return i
	}
	return len(providerPriority)
}

// Resolver turns request credentials into an Identity.
//
// Providers are consulted in priority order: mtls, api_key, jwt, oauth.
// The first provider whose Supports returns true is the only one asked to
// authenticate; its failure is final.
type Resolver struct {
	providers []Provider
	logger    observe.Logger
	metrics   observe.Metrics
	tracer    observe.Tracer
}

// NewResolver creates a resolver over providers. Providers with names
// outside the built-in set are consulted last, in the order given.
func NewResolver(deps Deps, providers ...Provider) *Resolver {
	deps = deps.withDefaults(0)
	ordered := slices.Clone(providers)
	slices.SortStableFunc(ordered, func(a, b Provider) int {
		return priorityOf(a.Name()) - priorityOf(b.Name())
	})
	return &Resolver{
		providers: ordered,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
	}
}

// Providers returns the providers in resolution order.
func (r *Resolver) Providers() []Provider {
	return slices.Clone(r.providers)
}

// Provider returns the provider with the given name.
func (r *Resolver) Provider(name string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Resolve authenticates creds with the first applicable provider. When no
// provider applies it returns MissingCredential.
func (r *Resolver) Resolve(ctx context.Context, creds *Credentials) (*Identity, error) {
	ctx, span := r.tracer.StartSpan(ctx, observe.SpanAuthenticate)
	start := time.Now()

	provider := r.selectProvider(creds)
	if provider == nil {
		err := MissingCredential()
		r.metrics.RecordAuth(ctx, "none", err.Kind.String(), time.Since(start))
		r.tracer.EndSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.provider", provider.Name()))

	identity, err := provider.Authenticate(ctx, creds)
	if err == nil && identity == nil {
		err = Internal("provider returned no identity", nil)
	}
	if err != nil {
		ae := AsError(err).withProvider(provider.Name())
		r.metrics.RecordAuth(ctx, provider.Name(), ae.Kind.String(), time.Since(start))
		r.tracer.EndSpan(span, ae)
		r.logger.Debug(ctx, "authentication failed",
			observe.Field{Key: "provider", Value: provider.Name()},
			observe.Field{Key: "kind", Value: ae.Kind.String()},
			observe.Field{Key: "reason", Value: ae.Reason},
		)
		return nil, ae
	}

	if identity.Provider == "" {
		identity.Provider = provider.Name()
	}
	r.metrics.RecordAuth(ctx, provider.Name(), "success", time.Since(start))
	r.tracer.EndSpan(span, nil)
	return identity, nil
}

// ResolveRequest extracts credentials from req and resolves them.
func (r *Resolver) ResolveRequest(req *http.Request) (*Identity, error) {
	return r.Resolve(req.Context(), CredentialsFromRequest(req))
}

func (r *Resolver) selectProvider(creds *Credentials) Provider {
	if creds == nil {
		return nil
	}
	for _, p := range r.providers {
		if p.Supports(creds) {
			return p
		}
	}
	return nil
}

// runner is a provider with background maintenance, such as JWKS refresh.
type runner interface {
	Run(ctx context.Context) error
}

// Run runs the background loops of all providers until ctx is done.
func (r *Resolver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.providers {
		if rn, ok := p.(runner); ok {
			g.Go(func() error { return rn.Run(ctx) })
		}
	}
	return g.Wait()
}
