package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/resilience"
)

// JWKSConfig configures the JWKS key cache.
type JWKSConfig struct {
	// URL is the JWKS endpoint URL.
	URL string

	// CacheTTL is how long fetched keys are considered fresh.
	// Default: 1 hour
	CacheTTL time.Duration

	// Algorithms lists the accepted key algorithms. Keys with another or a
	// missing "alg" are ignored.
	// Default: RS256, ES256
	Algorithms []string

	// Timeout bounds one fetch when the default HTTP client is used.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxBodyBytes bounds the size of the JWKS document.
	// Default: 1 MiB
	MaxBodyBytes int64

	// RetryAttempts is the number of fetch attempts per refresh.
	// Default: 2
	RetryAttempts uint
}

// verificationKey is a parsed key together with its declared algorithm.
type verificationKey struct {
	key crypto.PublicKey
	alg string
}

var errNoUsableKeys = errors.New("jwks: no usable keys")

// upstreamStatusError is a non-200 response from an upstream endpoint.
type upstreamStatusError struct {
	endpoint string
	code     int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.endpoint, e.code)
}

// retryableUpstream reports whether err is worth retrying.
func retryableUpstream(err error) bool {
	if errors.Is(err, errNoUsableKeys) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *upstreamStatusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return err != nil
}

// JWKSCache holds verification keys fetched from a JWKS endpoint.
//
// The cache starts expired, so the first lookup fetches. Concurrent
// refreshes are collapsed into one fetch. A failed refresh leaves the
// previously fetched keys in place.
type JWKSCache struct {
	config  JWKSConfig
	client  *http.Client
	logger  observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer
	now     func() time.Time
	breaker *resilience.Breaker
	retry   *resilience.Retry

	sf singleflight.Group

	mu        sync.RWMutex
	keys      map[string]verificationKey
	fetchedAt time.Time
	lastErr   error
}

// NewJWKSCache creates an expired cache for the configured endpoint.
func NewJWKSCache(config JWKSConfig, deps Deps) (*JWKSCache, error) {
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	if len(config.Algorithms) == 0 {
		config.Algorithms = []string{"RS256", "ES256"}
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 2
	}

	u, err := url.Parse(config.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, Misconfigured(fmt.Sprintf("invalid jwks url %q", config.URL)).withProvider(ProviderJWT)
	}

	deps = deps.withDefaults(config.Timeout)
	logger := deps.Logger.With(observe.Field{Key: "component", Value: "jwks"})

	return &JWKSCache{
		config:  config,
		client:  deps.HTTPClient,
		logger:  logger,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		now:     deps.Now,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name: "jwks",
			Now:  deps.Now,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn(context.Background(), "upstream breaker state change",
					observe.Field{Key: "endpoint", Value: name},
					observe.Field{Key: "from", Value: from.String()},
					observe.Field{Key: "to", Value: to.String()},
				)
			},
		}),
		retry: resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  config.RetryAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			RetryIf:      retryableUpstream,
		}),
		keys: make(map[string]verificationKey),
	}, nil
}

// Expired reports whether the keys are older than the TTL, or were never
// fetched.
func (c *JWKSCache) Expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiredLocked()
}

func (c *JWKSCache) expiredLocked() bool {
	return c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) > c.config.CacheTTL
}

// FetchedAt returns the time of the last successful fetch.
func (c *JWKSCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Len returns the number of cached keys.
func (c *JWKSCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// LastError returns the error of the most recent failed refresh, cleared
// by a successful one.
func (c *JWKSCache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Breaker returns the breaker guarding the endpoint.
func (c *JWKSCache) Breaker() *resilience.Breaker {
	return c.breaker
}

// Key returns the verification key and algorithm for kid, refreshing the
// set first when it has expired.
func (c *JWKSCache) Key(ctx context.Context, kid string) (crypto.PublicKey, string, error) {
	if c.Expired() {
		if err := c.Refresh(ctx); err != nil {
			if c.Len() == 0 {
				return nil, "", UpstreamUnavailable("jwks fetch failed and no cached keys", err).withProvider(ProviderJWT)
			}
			c.logger.Warn(ctx, "jwks refresh failed, using cached keys",
				observe.Field{Key: "error", Value: err},
				observe.Field{Key: "keys", Value: c.Len()},
			)
		}
	}

	c.mu.RLock()
	k, ok := c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, "", InvalidCredential(fmt.Sprintf("unknown key id %q", kid)).withProvider(ProviderJWT)
	}
	return k.key, k.alg, nil
}

// Refresh fetches the key set. Callers racing on Refresh share one fetch;
// a caller whose ctx ends stops waiting without cancelling the fetch.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	ch := c.sf.DoChan("refresh", func() (any, error) {
		return nil, c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run refreshes the key set at three quarters of the TTL until ctx is done.
func (c *JWKSCache) Run(ctx context.Context) error {
	if c.Expired() {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn(ctx, "initial jwks fetch failed", observe.Field{Key: "error", Value: err})
		}
	}

	interval := c.config.CacheTTL * 3 / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn(ctx, "background jwks refresh failed", observe.Field{Key: "error", Value: err})
			}
		}
	}
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	ctx, span := c.tracer.StartSpan(ctx, observe.SpanJWKSFetch, attribute.String("jwks.url", c.config.URL))
	start := time.Now()

	var keys map[string]verificationKey
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Execute(ctx, func(ctx context.Context) error {
			var err error
			keys, err = c.download(ctx)
			return err
		})
	})

	c.metrics.RecordUpstream(ctx, "jwks", time.Since(start), err)
	c.tracer.EndSpan(span, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err
		return err
	}
	c.keys = keys
	c.fetchedAt = c.now()
	c.lastErr = nil
	c.logger.Debug(ctx, "jwks refreshed", observe.Field{Key: "keys", Value: len(keys)})
	return nil
}

func (c *JWKSCache) download(ctx context.Context) (map[string]verificationKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &upstreamStatusError{endpoint: "jwks", code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, fmt.Errorf("jwks document exceeds %d bytes", c.config.MaxBodyBytes)
	}

	return c.parseKeySet(body)
}

// parseKeySet keeps keys that have a kid, an allowed alg and an RSA or EC
// public component. Anything else is skipped.
func (c *JWKSCache) parseKeySet(body []byte) (map[string]verificationKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]verificationKey, len(doc.Keys))
	for _, raw := range doc.Keys {
		key, err := jwk.ParseKey(raw)
		if err != nil {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}
		alg := key.Algorithm().String()
		if alg == "" || !slices.Contains(c.config.Algorithms, alg) {
			continue
		}
		pub, err := jwk.PublicRawKeyOf(key)
		if err != nil {
			continue
		}
		switch pub.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			keys[kid] = verificationKey{key: pub, alg: alg}
		}
	}

	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return keys, nil
}
