// Package resilience guards the gateway's outbound calls to key-set and
// token endpoints.
//
// A Breaker fails calls fast while an endpoint is down, and Retry re-runs
// idempotent fetches with jittered exponential backoff. Both are composed
// by the auth providers around their HTTP calls:
//
//	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "jwks"})
//	retry := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 2})
//
//	err := breaker.Execute(ctx, func(ctx context.Context) error {
//	    return retry.Execute(ctx, fetchKeySet)
//	})
package resilience
