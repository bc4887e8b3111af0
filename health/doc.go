// Package health reports whether the gateway can authenticate requests.
//
// A [Checker] reports one component's [Status]. The gateway registers
// checkers for the JWKS key set, the upstream circuit breakers, the OAuth
// pending-state store and the rate limiter, and an [Aggregator] combines
// them. The overall status is the worst individual status.
//
// # HTTP Endpoints
//
// [Mount] registers three endpoints on a chi router:
//
//	/healthz  liveness, always 200 while the process serves requests
//	/readyz   200 when healthy or degraded, 503 when unhealthy
//	/health   JSON with every check's status, message and details
package health
