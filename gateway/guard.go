package gateway

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/authz"
	"github.com/jonwraymond/toolgate/health"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/ratelimit"
)

// DefaultMaxBodyBytes bounds an inbound JSON-RPC body.
const DefaultMaxBodyBytes = 1 << 20

// Options configures a Guard. Zero values select defaults.
type Options struct {
	Logger        observe.Logger
	Metrics       observe.Metrics
	MaxBodyBytes  int64
	HealthTimeout time.Duration

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
}

// Admission is an admitted request.
type Admission struct {
	Identity *auth.Identity
	Method   string
	Tool     string
	Limit    ratelimit.Result
}

// Guard admits requests: authentication, then authorization, then rate
// limiting.
type Guard struct {
	resolver *auth.Resolver
	limiter  *ratelimit.Limiter
	health   *health.Aggregator
	logger   observe.Logger
	metrics  observe.Metrics
	maxBody  int64
	scrape   http.Handler
}

// New creates a guard over resolver and limiter and registers a health
// checker for every upstream dependency of the configured providers.
func New(resolver *auth.Resolver, limiter *ratelimit.Limiter, opts Options) *Guard {
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.NopMetrics()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	g := &Guard{
		resolver: resolver,
		limiter:  limiter,
		health:   health.NewAggregator(opts.HealthTimeout),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		maxBody:  opts.MaxBodyBytes,
		scrape:   opts.MetricsHandler,
	}
	g.registerCheckers()
	return g
}

// Health returns the aggregator behind the health endpoints.
func (g *Guard) Health() *health.Aggregator {
	return g.health
}

// Resolver returns the identity resolver.
func (g *Guard) Resolver() *auth.Resolver {
	return g.resolver
}

// Limiter returns the rate limiter.
func (g *Guard) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Admit authenticates creds, authorizes msg and charges the rate limits.
//
// Authentication failures are *auth.Error. Authorization and rate limit
// denials are *Rejection. A nil msg is treated as a request without a
// JSON-RPC body and is only rate limited.
func (g *Guard) Admit(ctx context.Context, creds *auth.Credentials, msg *authz.Message) (*Admission, error) {
	method := ""
	if msg != nil {
		method = msg.Method
	}

	identity, err := g.resolver.Resolve(ctx, creds)
	if err != nil {
		ae := auth.AsError(err)
		g.audit(ctx, nil, method, "", false, ae.Error())
		return nil, ae
	}

	decision := authz.Authorize(identity, msg)
	if msg.IsToolCall() {
		g.metrics.RecordAuthz(ctx, decision.Allowed)
	}
	if !decision.Allowed {
		g.audit(ctx, identity, method, decision.Tool, false, decision.Reason)
		return nil, &Rejection{Reason: ErrForbidden, Decision: decision}
	}

	result := g.limiter.Check(identity, decision.Tool)
	if g.limiter.Config().Enabled {
		scope := result.Scope
		if scope == "" {
			scope = ratelimit.ScopeIdentity
		}
		g.metrics.RecordRateLimit(ctx, scope, result.Allowed)
	}
	if !result.Allowed {
		g.audit(ctx, identity, method, decision.Tool, false, "rate limit exceeded ("+result.Scope+")")
		return nil, &Rejection{Reason: ErrRateLimited, Decision: decision, Limit: result}
	}

	g.audit(ctx, identity, method, decision.Tool, true, "")
	return &Admission{Identity: identity, Method: method, Tool: decision.Tool, Limit: result}, nil
}

// audit writes one admission record. Denials log at Warn.
func (g *Guard) audit(ctx context.Context, identity *auth.Identity, method, tool string, success bool, reason string) {
	fields := []observe.Field{
		{Key: "method", Value: method},
		{Key: "success", Value: success},
	}
	if identity != nil {
		fields = append(fields,
			observe.Field{Key: "identity_id", Value: identity.ID},
			observe.Field{Key: "auth_provider", Value: identity.Provider},
		)
	}
	if tool != "" {
		fields = append(fields, observe.Field{Key: "tool", Value: tool})
	}
	if reason != "" {
		fields = append(fields, observe.Field{Key: "reason", Value: reason})
	}

	if success {
		g.logger.Info(ctx, "request admitted", fields...)
		return
	}
	g.logger.Warn(ctx, "request rejected", fields...)
}

// Run runs the resolver's key refresh loops and the limiter's sweep loop
// until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.resolver.Run(ctx) })
	eg.Go(func() error { return g.limiter.Run(ctx) })
	return eg.Wait()
}

func (g *Guard) registerCheckers() {
	for _, p := range g.resolver.Providers() {
		switch p := p.(type) {
		case *auth.JWTProvider:
			if jwks := p.JWKS(); jwks != nil {
				g.health.Register(
					health.NewKeySetChecker("jwks", jwks),
					health.NewBreakerChecker(jwks.Breaker()),
				)
			}
		case *auth.OAuthProvider:
			g.health.Register(
				health.NewBreakerChecker(p.Breaker()),
				health.NewCapacityChecker("oauth_states", p.States(), 0),
			)
		}
	}

	g.health.Register(health.NewCheckerFunc("ratelimit", func(context.Context) health.Result {
		identities, tools := g.limiter.Len()
		details := map[string]any{"identity_buckets": identities, "tool_buckets": tools}
		if !g.limiter.Config().Enabled {
			return health.Healthy("disabled").WithDetails(details)
		}
		return health.Healthy("enabled").WithDetails(details)
	}))
}
