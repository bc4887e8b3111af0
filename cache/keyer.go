package cache

import (
	"crypto/sha256"
	"encoding/base64"
)

// TokenKey derives a cache key from a raw credential. The raw value is
// never stored; the key is the unpadded base64url SHA-256 digest.
func TokenKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
