package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// APIKeyConfig configures the API key provider.
type APIKeyConfig struct {
	// Prefix marks bearer tokens that are API keys, e.g. "mcp_".
	// Keys sent in the X-API-Key header are accepted regardless of prefix.
	Prefix string `yaml:"prefix"`

	// Keys are the registered keys.
	Keys []APIKeyInfo `yaml:"keys" validate:"dive"`
}

// APIKeyInfo describes one registered API key. Only the digest of the key
// is ever configured.
type APIKeyInfo struct {
	// ID identifies the key holder; it becomes Identity.ID.
	ID string `yaml:"id" validate:"required"`

	// KeyHash is the hex SHA-256 digest of the key (see HashAPIKey).
	KeyHash string `yaml:"key_hash" validate:"required,len=64,hexadecimal"`

	// AllowedTools restricts callable tools. Empty means unrestricted.
	AllowedTools []string `yaml:"allowed_tools"`

	// RateLimit overrides the default requests-per-second when > 0.
	RateLimit int `yaml:"rate_limit" validate:"gte=0"`

	// ExpiresAt is when this key stops working (zero = never).
	ExpiresAt time.Time `yaml:"expires_at"`
}

// APIKeyStore provides the registered keys.
type APIKeyStore interface {
	// List returns every registered key.
	List(ctx context.Context) ([]APIKeyInfo, error)
}

// APIKeyProvider authenticates API keys by digest.
//
// The presented key's digest is compared against every registered digest
// in constant time, without stopping at the first match.
type APIKeyProvider struct {
	config APIKeyConfig
	store  APIKeyStore
	now    func() time.Time
}

// NewAPIKeyProvider creates a provider over store.
func NewAPIKeyProvider(config APIKeyConfig, store APIKeyStore, deps Deps) *APIKeyProvider {
	deps = deps.withDefaults(0)
	return &APIKeyProvider{config: config, store: store, now: deps.Now}
}

// Name returns "api_key".
func (p *APIKeyProvider) Name() string {
	return ProviderAPIKey
}

// Supports reports whether an X-API-Key header is present, or the bearer
// token is opaque and carries the configured key prefix.
func (p *APIKeyProvider) Supports(creds *Credentials) bool {
	if creds == nil {
		return false
	}
	if creds.APIKey != "" {
		return true
	}
	return creds.BearerToken != "" &&
		!looksLikeJWT(creds.BearerToken) &&
		strings.HasPrefix(creds.BearerToken, p.config.Prefix)
}

// Authenticate validates the presented key.
func (p *APIKeyProvider) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	presented := creds.APIKey
	if presented == "" {
		presented = creds.BearerToken
	}
	if presented == "" {
		return nil, MissingCredential().withProvider(ProviderAPIKey)
	}

	keys, err := p.store.List(ctx)
	if err != nil {
		return nil, Internal("list api keys", err).withProvider(ProviderAPIKey)
	}

	digest := HashAPIKey(presented)
	match := -1
	for i := range keys {
		if ConstantTimeCompare(digest, keys[i].KeyHash) && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, InvalidCredential("unknown api key").withProvider(ProviderAPIKey)
	}

	info := keys[match]
	if !info.ExpiresAt.IsZero() && !p.now().Before(info.ExpiresAt) {
		return nil, Expired(fmt.Sprintf("api key %q expired", info.ID)).withProvider(ProviderAPIKey)
	}

	return &Identity{
		ID:           info.ID,
		AllowedTools: normalizeAllowedTools(info.AllowedTools),
		RateLimit:    info.RateLimit,
		Provider:     ProviderAPIKey,
		Claims:       map[string]any{"auth_method": ProviderAPIKey},
	}, nil
}

// HashAPIKey returns the hex SHA-256 digest stored in configuration.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ConstantTimeCompare reports whether a and b are equal. Its running time
// depends only on the lengths, never on where the first difference is.
// Unequal lengths return immediately since length is not secret.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MemoryAPIKeyStore is an in-memory API key store.
type MemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys []APIKeyInfo
}

// NewMemoryAPIKeyStore creates a store holding keys.
func NewMemoryAPIKeyStore(keys ...APIKeyInfo) (*MemoryAPIKeyStore, error) {
	s := &MemoryAPIKeyStore{}
	for _, k := range keys {
		if err := s.Add(k); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns a snapshot of the registered keys.
func (s *MemoryAPIKeyStore) List(_ context.Context) ([]APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]APIKeyInfo, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

// Add registers a key, replacing any key with the same ID.
func (s *MemoryAPIKeyStore) Add(info APIKeyInfo) error {
	if info.ID == "" {
		return Misconfigured("api key id is required")
	}
	info.KeyHash = strings.ToLower(strings.TrimSpace(info.KeyHash))
	if raw, err := hex.DecodeString(info.KeyHash); err != nil || len(raw) != sha256.Size {
		return Misconfigured(fmt.Sprintf("api key %q: key_hash must be a hex sha256 digest", info.ID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].ID == info.ID {
			s.keys[i] = info
			return nil
		}
	}
	s.keys = append(s.keys, info)
	return nil
}

// Remove unregisters the key with the given ID.
func (s *MemoryAPIKeyStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].ID == id {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return
		}
	}
}

var (
	_ Provider    = (*APIKeyProvider)(nil)
	_ APIKeyStore = (*MemoryAPIKeyStore)(nil)
)
