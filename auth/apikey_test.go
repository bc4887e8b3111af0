package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func newTestAPIKeyProvider(t *testing.T, clock *testClock, keys ...APIKeyInfo) *APIKeyProvider {
	t.Helper()
	store, err := NewMemoryAPIKeyStore(keys...)
	if err != nil {
		t.Fatalf("NewMemoryAPIKeyStore() error = %v", err)
	}
	return NewAPIKeyProvider(APIKeyConfig{Prefix: "mcp_"}, store, Deps{Now: clock.Now})
}

func TestHashAPIKey(t *testing.T) {
	// sha256("test-key")
	want := "62af8704764faf8ea82fc61ce9c4c3908b6cb97d463a634e9e587d7c885db0ef"
	if got := HashAPIKey("test-key"); got != want {
		t.Errorf("HashAPIKey() = %s, want %s", got, want)
	}
	if HashAPIKey("a") == HashAPIKey("b") {
		t.Error("different keys should hash differently")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{a: "abc", b: "abc", want: true},
		{a: "abc", b: "abd", want: false},
		{a: "abc", b: "abcd", want: false},
		{a: "", b: "", want: true},
	}
	for _, tt := range tests {
		if got := ConstantTimeCompare(tt.a, tt.b); got != tt.want {
			t.Errorf("ConstantTimeCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAPIKeyProvider_Supports(t *testing.T) {
	p := newTestAPIKeyProvider(t, newTestClock())
	jwtLike := signHS256(t, validClaims(time.Now()), testSecret)

	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{name: "nil", creds: nil, want: false},
		{name: "empty", creds: &Credentials{}, want: false},
		{name: "header", creds: &Credentials{APIKey: "anything"}, want: true},
		{name: "prefixed bearer", creds: &Credentials{BearerToken: "mcp_secret"}, want: true},
		{name: "unprefixed bearer", creds: &Credentials{BearerToken: "gho_secret"}, want: false},
		{name: "jwt bearer", creds: &Credentials{BearerToken: jwtLike}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Supports(tt.creds); got != tt.want {
				t.Errorf("Supports() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIKeyProvider_Authenticate(t *testing.T) {
	clock := newTestClock()
	p := newTestAPIKeyProvider(t, clock,
		APIKeyInfo{ID: "alice", KeyHash: HashAPIKey("mcp_alice"), AllowedTools: []string{"read_file"}, RateLimit: 5},
		APIKeyInfo{ID: "bob", KeyHash: strings.ToUpper(HashAPIKey("mcp_bob"))},
		APIKeyInfo{ID: "carol", KeyHash: HashAPIKey("mcp_carol"), ExpiresAt: clock.Now().Add(time.Hour)},
	)
	ctx := context.Background()

	t.Run("header key", func(t *testing.T) {
		id, err := p.Authenticate(ctx, &Credentials{APIKey: "mcp_alice"})
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if id.ID != "alice" || id.RateLimit != 5 {
			t.Errorf("identity = %+v", id)
		}
		if !slices.Equal(id.AllowedTools, []string{"read_file"}) {
			t.Errorf("AllowedTools = %v", id.AllowedTools)
		}
		if v, _ := id.Claim("auth_method"); v != ProviderAPIKey {
			t.Errorf("auth_method = %v", v)
		}
	})

	t.Run("bearer key with upper-case configured hash", func(t *testing.T) {
		id, err := p.Authenticate(ctx, &Credentials{BearerToken: "mcp_bob"})
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if id.ID != "bob" {
			t.Errorf("ID = %q, want bob", id.ID)
		}
		if !id.Unrestricted() {
			t.Error("empty allowed_tools should be unrestricted")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := p.Authenticate(ctx, &Credentials{APIKey: "mcp_mallory"})
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Authenticate() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := p.Authenticate(ctx, &Credentials{})
		if !errors.Is(err, ErrMissingCredential) {
			t.Errorf("Authenticate() error = %v, want ErrMissingCredential", err)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		if _, err := p.Authenticate(ctx, &Credentials{APIKey: "mcp_carol"}); err != nil {
			t.Fatalf("Authenticate() before expiry error = %v", err)
		}
		clock.Advance(2 * time.Hour)
		_, err := p.Authenticate(ctx, &Credentials{APIKey: "mcp_carol"})
		if !errors.Is(err, ErrExpired) {
			t.Errorf("Authenticate() after expiry error = %v, want ErrExpired", err)
		}
	})
}

func TestAPIKeyProvider_RejectsNearMisses(t *testing.T) {
	const key = "mcp_k7Qx2vLp9RzT"
	p := newTestAPIKeyProvider(t, newTestClock(), APIKeyInfo{ID: "alice", KeyHash: HashAPIKey(key)})
	ctx := context.Background()

	if _, err := p.Authenticate(ctx, &Credentials{APIKey: key}); err != nil {
		t.Fatalf("Authenticate(valid) error = %v", err)
	}

	for i := range len(key) {
		b := []byte(key)
		b[i] ^= 0x01
		if _, err := p.Authenticate(ctx, &Credentials{APIKey: string(b)}); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("byte %d changed: error = %v, want ErrInvalidCredential", i, err)
		}
	}
	for _, near := range []string{key[:len(key)-1], key + "x", strings.ToUpper(key)} {
		if _, err := p.Authenticate(ctx, &Credentials{APIKey: near}); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Authenticate(%q) error = %v, want ErrInvalidCredential", near, err)
		}
	}
}

func TestMemoryAPIKeyStore(t *testing.T) {
	if _, err := NewMemoryAPIKeyStore(APIKeyInfo{ID: "x", KeyHash: "not-hex"}); !errors.Is(err, ErrProviderMisconfigured) {
		t.Errorf("invalid hash error = %v, want ErrProviderMisconfigured", err)
	}
	if _, err := NewMemoryAPIKeyStore(APIKeyInfo{KeyHash: HashAPIKey("k")}); !errors.Is(err, ErrProviderMisconfigured) {
		t.Errorf("missing id error = %v, want ErrProviderMisconfigured", err)
	}

	store, err := NewMemoryAPIKeyStore(APIKeyInfo{ID: "a", KeyHash: HashAPIKey("k1")})
	if err != nil {
		t.Fatalf("NewMemoryAPIKeyStore() error = %v", err)
	}
	if err := store.Add(APIKeyInfo{ID: "a", KeyHash: HashAPIKey("k2")}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	keys, _ := store.List(context.Background())
	if len(keys) != 1 || keys[0].KeyHash != HashAPIKey("k2") {
		t.Errorf("Add() should replace by id, got %+v", keys)
	}

	store.Remove("a")
	keys, _ = store.List(context.Background())
	if len(keys) != 0 {
		t.Errorf("List() after Remove = %d keys, want 0", len(keys))
	}
}

type failingStore struct{}

func (failingStore) List(context.Context) ([]APIKeyInfo, error) {
	return nil, errors.New("backend down")
}

func TestAPIKeyProvider_StoreError(t *testing.T) {
	p := NewAPIKeyProvider(APIKeyConfig{}, failingStore{}, Deps{})
	_, err := p.Authenticate(context.Background(), &Credentials{APIKey: "k"})
	if KindOf(err) != KindInternal {
		t.Errorf("KindOf(err) = %v, want internal", KindOf(err))
	}
}
