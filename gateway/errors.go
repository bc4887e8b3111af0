package gateway

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/toolgate/authz"
	"github.com/jonwraymond/toolgate/ratelimit"
)

var (
	// ErrForbidden is the reason of a Rejection by the authorization engine.
	ErrForbidden = errors.New("gateway: tool not permitted")

	// ErrRateLimited is the reason of a Rejection by the rate limiter.
	ErrRateLimited = errors.New("gateway: rate limit exceeded")

	// ErrUpstreamURL is returned for an unusable upstream URL.
	ErrUpstreamURL = errors.New("gateway: invalid upstream url")
)

// Rejection is an authenticated request that was denied. It matches
// ErrForbidden or ErrRateLimited.
type Rejection struct {
	Reason   error
	Decision authz.Decision
	Limit    ratelimit.Result
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Reason == ErrRateLimited {
		return fmt.Sprintf("%v: %s scope, retry after %ds", r.Reason, r.Limit.Scope, r.Limit.RetryAfterSecs)
	}
	return fmt.Sprintf("%v: %s", r.Reason, r.Decision.Reason)
}

// Unwrap returns the rejection reason.
func (r *Rejection) Unwrap() error {
	return r.Reason
}
