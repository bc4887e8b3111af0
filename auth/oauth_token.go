package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonwraymond/toolgate/cache"
)

// TokenInfo is the validated state of an OAuth access token, built from an
// introspection or userinfo response.
type TokenInfo struct {
	Active    bool
	UserID    string
	Username  string
	Scopes    []string
	ExpiresAt time.Time
	Claims    map[string]any
}

// expiredAt reports whether the token has passed its exp at now.
func (t TokenInfo) expiredAt(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// parseTokenInfo reads an introspection or userinfo document.
//
// A missing "active" counts as active. The user id is taken from
// userIDClaim, then "sub", then a numeric or string "id". The username is
// the first of "username", "name" and "login".
func parseTokenInfo(body []byte, userIDClaim string) (TokenInfo, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return TokenInfo{}, fmt.Errorf("decode token info: %w", err)
	}
	if doc == nil {
		return TokenInfo{}, fmt.Errorf("decode token info: not an object")
	}

	if active, ok := doc["active"].(bool); ok && !active {
		return TokenInfo{Active: false}, nil
	}

	info := TokenInfo{Active: true, Claims: doc}

	for _, key := range []string{userIDClaim, "sub", "id"} {
		if key == "" {
			continue
		}
		switch v := doc[key].(type) {
		case string:
			info.UserID = v
		case json.Number:
			if _, err := v.Int64(); err == nil {
				info.UserID = v.String()
			}
		}
		if info.UserID != "" {
			break
		}
	}

	for _, key := range []string{"username", "name", "login"} {
		if s, ok := doc[key].(string); ok && s != "" {
			info.Username = s
			break
		}
	}

	info.Scopes = scopesFromClaim(doc["scope"])

	if exp, ok := doc["exp"].(json.Number); ok {
		if sec, err := exp.Int64(); err == nil {
			info.ExpiresAt = time.Unix(sec, 0)
		}
	}

	return info, nil
}

// TokenInfoCache caches validated token state keyed by a digest of the raw
// token. Inactive results are cached too, so a revoked token does not cause
// an upstream call on every request.
type TokenInfoCache struct {
	entries *cache.Bounded[TokenInfo]
}

// NewTokenInfoCache creates a cache with the token policy. A positive ttl
// replaces the default five minutes.
func NewTokenInfoCache(ttl time.Duration, now func() time.Time) *TokenInfoCache {
	policy := cache.TokenPolicy()
	if ttl > 0 {
		policy.TTL = ttl
	}
	if now == nil {
		now = time.Now
	}
	return &TokenInfoCache{entries: cache.NewBounded[TokenInfo](policy).WithClock(now)}
}

// Get returns the cached state of token.
func (c *TokenInfoCache) Get(token string) (TokenInfo, bool) {
	return c.entries.Get(cache.TokenKey(token))
}

// Put caches info for token. Entries never outlive the token's exp, and a
// token already past exp is not cached.
func (c *TokenInfoCache) Put(token string, info TokenInfo) {
	c.entries.SetUntil(cache.TokenKey(token), info, info.ExpiresAt)
}

// Len returns the number of cached entries.
func (c *TokenInfoCache) Len() int {
	return c.entries.Len()
}
