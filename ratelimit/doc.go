// Package ratelimit enforces per-identity and per-tool request quotas.
//
// Every identity has a token bucket. Its quota is the configured default,
// or the identity's own RateLimit with a burst of half that rate (at least
// one). When a tool limit pattern matches the called tool, a second bucket
// keyed by (identity, tool) must also admit the call. Tools no pattern
// matches are exempt from tool-level checks.
//
// Buckets are created on first use and evicted by [Limiter.Sweep] once idle
// for longer than the configured entry TTL.
package ratelimit
