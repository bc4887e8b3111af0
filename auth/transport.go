package auth

import (
	"net/http"
	"net/netip"
	"strings"
)

// APIKeyHeader is the header carrying a raw API key.
const APIKeyHeader = "X-API-Key"

// CredentialsFromRequest extracts credential material from r.
//
// Only verified TLS chains are used. RemoteAddr is the immediate peer;
// forwarding headers such as X-Forwarded-For are ignored.
func CredentialsFromRequest(r *http.Request) *Credentials {
	creds := &Credentials{Headers: r.Header}

	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		creds.BearerToken = token
	}
	creds.APIKey = strings.TrimSpace(r.Header.Get(APIKeyHeader))

	if r.TLS != nil && len(r.TLS.VerifiedChains) > 0 && len(r.TLS.VerifiedChains[0]) > 0 {
		creds.PeerCertificates = r.TLS.VerifiedChains[0]
	}

	creds.RemoteAddr = parseRemoteAddr(r.RemoteAddr)
	return creds
}

// extractBearerToken returns the token of a "Bearer <token>" header value.
// The scheme match is case-insensitive.
func extractBearerToken(header string) (string, bool) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", false
	}
	return token, true
}

func parseRemoteAddr(s string) netip.Addr {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().WithZone("")
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.WithZone("")
	}
	return netip.Addr{}
}
