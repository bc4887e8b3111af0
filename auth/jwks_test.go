package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/toolgate/resilience"
)

func TestNewJWKSCache_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://example.com/jwks", "https://"} {
		_, err := NewJWKSCache(JWKSConfig{URL: u}, Deps{})
		if !errors.Is(err, ErrProviderMisconfigured) {
			t.Errorf("NewJWKSCache(%q) error = %v, want ErrProviderMisconfigured", u, err)
		}
	}
}

func TestJWKSCache_StartsExpired(t *testing.T) {
	cache, err := NewJWKSCache(JWKSConfig{URL: "https://example.com/jwks"}, Deps{})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}
	if !cache.Expired() {
		t.Error("new cache should be expired")
	}
	if !cache.FetchedAt().IsZero() {
		t.Errorf("FetchedAt() = %v, want zero", cache.FetchedAt())
	}
}

func TestJWKSCache_Key(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	ecKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	srv := newJWKSServer(t,
		rsaJWK("rsa-1", "RS256", &rsaKey.PublicKey),
		ecJWK("ec-1", "ES256", &ecKey.PublicKey),
	)

	clock := newTestClock()
	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL, CacheTTL: time.Hour}, Deps{Now: clock.Now})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}
	ctx := context.Background()

	t.Run("rsa key", func(t *testing.T) {
		key, alg, err := cache.Key(ctx, "rsa-1")
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			t.Fatalf("Key() returned %T, want *rsa.PublicKey", key)
		}
		if pub.N.Cmp(rsaKey.N) != 0 {
			t.Error("key modulus does not match")
		}
		if alg != "RS256" {
			t.Errorf("alg = %q, want RS256", alg)
		}
	})

	t.Run("ec key", func(t *testing.T) {
		key, alg, err := cache.Key(ctx, "ec-1")
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if _, ok := key.(*ecdsa.PublicKey); !ok {
			t.Fatalf("Key() returned %T, want *ecdsa.PublicKey", key)
		}
		if alg != "ES256" {
			t.Errorf("alg = %q, want ES256", alg)
		}
	})

	t.Run("unknown kid does not refetch", func(t *testing.T) {
		_, _, err := cache.Key(ctx, "missing")
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Key() error = %v, want ErrInvalidCredential", err)
		}
	})

	if got := srv.hits.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if cache.Expired() {
		t.Error("cache should be fresh after fetch")
	}

	clock.Advance(time.Hour + time.Second)
	if !cache.Expired() {
		t.Error("cache should expire after TTL")
	}
	if _, _, err := cache.Key(ctx, "rsa-1"); err != nil {
		t.Fatalf("Key() after expiry error = %v", err)
	}
	if got := srv.hits.Load(); got != 2 {
		t.Errorf("fetches after expiry = %d, want 2", got)
	}
}

func TestJWKSCache_FiltersKeys(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := newJWKSServer(t,
		rsaJWK("good", "RS256", &rsaKey.PublicKey),
		rsaJWK("", "RS256", &rsaKey.PublicKey),
		rsaJWK("no-alg", "", &rsaKey.PublicKey),
		rsaJWK("other-alg", "RS512", &rsaKey.PublicKey),
		map[string]any{"kty": "oct", "kid": "hmac", "alg": "HS256", "k": "c2VjcmV0"},
		map[string]any{"kty": "bogus", "kid": "bogus", "alg": "RS256"},
	)

	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL}, Deps{})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := cache.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	for _, kid := range []string{"no-alg", "other-alg", "hmac", "bogus"} {
		if _, _, err := cache.Key(context.Background(), kid); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Key(%q) error = %v, want ErrInvalidCredential", kid, err)
		}
	}
}

func TestJWKSCache_FailedRefreshKeepsKeys(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := newJWKSServer(t, rsaJWK("k1", "RS256", &rsaKey.PublicKey))

	clock := newTestClock()
	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL, CacheTTL: time.Minute, RetryAttempts: 1}, Deps{Now: clock.Now})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}
	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	fetchedAt := cache.FetchedAt()

	tests := []struct {
		name   string
		status int
	}{
		{name: "empty key set", status: http.StatusOK},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "not found", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv.set(tt.status)
			clock.Advance(2 * time.Minute)

			if err := cache.Refresh(ctx); err == nil {
				t.Fatal("Refresh() should fail")
			}
			if cache.Len() != 1 {
				t.Errorf("Len() = %d, want stale key kept", cache.Len())
			}
			if !cache.FetchedAt().Equal(fetchedAt) {
				t.Error("failed refresh must not move FetchedAt")
			}
			if cache.LastError() == nil {
				t.Error("LastError() should be set")
			}
			if _, _, err := cache.Key(ctx, "k1"); err != nil {
				t.Errorf("Key() with stale keys error = %v", err)
			}
		})
	}
}

func TestJWKSCache_UnavailableWithoutKeys(t *testing.T) {
	srv := newJWKSServer(t)
	srv.set(http.StatusServiceUnavailable)

	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL, RetryAttempts: 1}, Deps{})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}
	_, _, err = cache.Key(context.Background(), "k1")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Key() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestJWKSCache_BreakerOpens(t *testing.T) {
	srv := newJWKSServer(t)
	srv.set(http.StatusInternalServerError)

	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL, RetryAttempts: 1}, Deps{})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}
	ctx := context.Background()
	for range 5 {
		_ = cache.Refresh(ctx)
	}
	hits := srv.hits.Load()

	if err := cache.Refresh(ctx); err == nil {
		t.Fatal("Refresh() should fail while breaker is open")
	}
	if got := srv.hits.Load(); got != hits {
		t.Errorf("open breaker still reached endpoint: hits %d -> %d", hits, got)
	}
	if cache.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", cache.Breaker().State())
	}
}

func TestJWKSCache_ConcurrentRefreshIsShared(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	release := make(chan struct{})
	arrived := make(chan struct{}, 1)

	body, _ := json.Marshal(map[string]any{"keys": []any{rsaJWK("k1", "RS256", &rsaKey.PublicKey)}})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL}, Deps{})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.Key(context.Background(), "k1")
			errs <- err
		}()
	}

	<-arrived
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Key() error = %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestJWKSCache_RunStopsOnCancel(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := newJWKSServer(t, rsaJWK("k1", "RS256", &rsaKey.PublicKey))

	cache, err := NewJWKSCache(JWKSConfig{URL: srv.URL, CacheTTL: 40 * time.Millisecond}, Deps{})
	if err != nil {
		t.Fatalf("NewJWKSCache() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
	if got := srv.hits.Load(); got < 2 {
		t.Errorf("fetches = %d, want initial fetch plus background refreshes", got)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}
