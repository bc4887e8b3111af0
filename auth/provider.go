package auth

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/netip"
	"time"

	"github.com/jonwraymond/toolgate/observe"
)

// Provider turns request credentials into an Identity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Supports is structural only: no I/O, no cryptography, no side effects.
// - Authenticate returns either a non-nil Identity or an *Error.
// - Context: Authenticate honors cancellation on outbound calls.
type Provider interface {
	// Name returns the provider name, e.g. "jwt".
	Name() string

	// Supports reports whether the credential material this provider
	// consumes is present and well-formed.
	Supports(creds *Credentials) bool

	// Authenticate verifies the credential and builds an Identity.
	Authenticate(ctx context.Context, creds *Credentials) (*Identity, error)
}

// Credentials is the credential material extracted from one request.
type Credentials struct {
	// BearerToken is the value of "Authorization: Bearer <token>".
	BearerToken string

	// APIKey is the value of the X-API-Key header.
	APIKey string

	// PeerCertificates is the verified client chain of a TLS connection
	// terminated by the gateway itself, leaf first.
	PeerCertificates []*x509.Certificate

	// Headers carries the raw request headers, used for proxy-injected
	// certificate headers.
	Headers http.Header

	// RemoteAddr is the immediate peer address.
	RemoteAddr netip.Addr
}

// Header returns the first value of a header, or "".
func (c *Credentials) Header(key string) string {
	if c == nil || c.Headers == nil {
		return ""
	}
	return c.Headers.Get(key)
}

// Deps are the shared collaborators handed to every provider.
// Zero values are replaced with no-op implementations.
type Deps struct {
	Logger     observe.Logger
	Metrics    observe.Metrics
	Tracer     observe.Tracer
	HTTPClient *http.Client
	Now        func() time.Time
}

// withDefaults fills unset collaborators. timeout applies only to the
// default HTTP client.
func (d Deps) withDefaults(timeout time.Duration) Deps {
	if d.Logger == nil {
		d.Logger = observe.NopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = observe.NopMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = observe.NopTracer()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: timeout}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
