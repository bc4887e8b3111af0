package auth

import (
	"fmt"
	"net/netip"
	"strings"
)

// TrustedProxyValidator decides whether a peer address belongs to a reverse
// proxy allowed to assert client-certificate headers.
//
// An empty validator trusts nothing. IPv4 ranges never match IPv6
// addresses and vice versa; IPv4-mapped IPv6 peers are compared as IPv4.
type TrustedProxyValidator struct {
	prefixes []netip.Prefix
}

// NewTrustedProxyValidator parses entries, each a single address or a CIDR
// range. Any invalid entry is an error.
func NewTrustedProxyValidator(entries []string) (*TrustedProxyValidator, error) {
	v := &TrustedProxyValidator{prefixes: make([]netip.Prefix, 0, len(entries))}
	for _, e := range entries {
		p, err := ParseTrustedRange(e)
		if err != nil {
			return nil, err
		}
		v.prefixes = append(v.prefixes, p)
	}
	return v, nil
}

// ParseTrustedRange parses "10.0.0.1", "10.0.0.0/8" or "fd00::/8".
func ParseTrustedRange(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid trusted proxy range %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid trusted proxy address %q: %w", s, err)
	}
	addr = addr.WithZone("")
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// IsTrusted reports whether addr falls in any configured range.
func (v *TrustedProxyValidator) IsTrusted(addr netip.Addr) bool {
	if v == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap().WithZone("")
	for _, p := range v.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// HasTrustedRanges reports whether any range is configured.
func (v *TrustedProxyValidator) HasTrustedRanges() bool {
	return v != nil && len(v.prefixes) > 0
}
