package auth

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"

	"github.com/jonwraymond/toolgate/observe"
)

// Headers set by a TLS-terminating reverse proxy.
const (
	HeaderClientCertVerified = "X-Client-Cert-Verified"
	HeaderClientCertCN       = "X-Client-Cert-CN"
	HeaderClientCertSANDNS   = "X-Client-Cert-SAN-DNS"
	HeaderClientCertSANEmail = "X-Client-Cert-SAN-Email"
)

var clientCertHeaders = []string{
	HeaderClientCertVerified,
	HeaderClientCertCN,
	HeaderClientCertSANDNS,
	HeaderClientCertSANEmail,
}

// MTLSIdentitySource selects the certificate field used as Identity.ID.
type MTLSIdentitySource string

const (
	SourceCN       MTLSIdentitySource = "cn"
	SourceSANDNS   MTLSIdentitySource = "san_dns"
	SourceSANEmail MTLSIdentitySource = "san_email"
	// SourceSPIFFEID reads the SPIFFE ID URI SAN. Only available when the
	// gateway terminates TLS itself.
	SourceSPIFFEID MTLSIdentitySource = "spiffe_id"
)

// MTLSConfig configures client-certificate authentication.
type MTLSConfig struct {
	// IdentitySource selects the identity field. Default: cn
	IdentitySource MTLSIdentitySource `yaml:"identity_source" validate:"omitempty,oneof=cn san_dns san_email spiffe_id"`

	// TrustedProxyIPs lists proxies whose certificate headers are believed.
	// Empty disables the header surface.
	TrustedProxyIPs []string `yaml:"trusted_proxy_ips"`

	// TrustDomain restricts spiffe_id identities to one trust domain.
	TrustDomain string `yaml:"trust_domain"`

	// AllowedTools applies to every certificate identity. Empty means
	// unrestricted.
	AllowedTools []string `yaml:"allowed_tools"`

	// RateLimit overrides the default requests-per-second when > 0.
	RateLimit int `yaml:"rate_limit" validate:"gte=0"`
}

// ClientCertInfo is the certificate data the provider works from.
type ClientCertInfo struct {
	CommonName string
	SANDNS     []string
	SANEmail   []string
	SPIFFEID   string
	Verified   bool
}

// ClientCertInfoFromCertificate reads a verified leaf certificate.
func ClientCertInfoFromCertificate(cert *x509.Certificate) ClientCertInfo {
	info := ClientCertInfo{
		CommonName: cert.Subject.CommonName,
		SANDNS:     cert.DNSNames,
		SANEmail:   cert.EmailAddresses,
		Verified:   true,
	}
	if id, err := x509svid.IDFromCert(cert); err == nil {
		info.SPIFFEID = id.String()
	}
	return info
}

// MTLSProvider authenticates client certificates, either from the TLS
// connection or from headers asserted by a trusted proxy.
type MTLSProvider struct {
	config      MTLSConfig
	proxies     *TrustedProxyValidator
	trustDomain spiffeid.TrustDomain
	logger      observe.Logger
}

// NewMTLSProvider creates an mTLS provider. Invalid proxy entries or trust
// domain fail with ProviderMisconfigured.
func NewMTLSProvider(config MTLSConfig, deps Deps) (*MTLSProvider, error) {
	if config.IdentitySource == "" {
		config.IdentitySource = SourceCN
	}
	switch config.IdentitySource {
	case SourceCN, SourceSANDNS, SourceSANEmail, SourceSPIFFEID:
	default:
		return nil, Misconfigured(fmt.Sprintf("unknown identity_source %q", config.IdentitySource)).withProvider(ProviderMTLS)
	}

	proxies, err := NewTrustedProxyValidator(config.TrustedProxyIPs)
	if err != nil {
		return nil, &Error{Kind: KindProviderMisconfigured, Provider: ProviderMTLS, Reason: "trusted_proxy_ips", Cause: err}
	}

	deps = deps.withDefaults(0)
	p := &MTLSProvider{
		config:  config,
		proxies: proxies,
		logger:  deps.Logger.With(observe.Field{Key: "provider", Value: ProviderMTLS}),
	}

	if config.TrustDomain != "" {
		td, err := spiffeid.TrustDomainFromString(config.TrustDomain)
		if err != nil {
			return nil, &Error{Kind: KindProviderMisconfigured, Provider: ProviderMTLS, Reason: "trust_domain", Cause: err}
		}
		p.trustDomain = td
	}

	if !proxies.HasTrustedRanges() {
		p.logger.Warn(context.Background(),
			"mtls enabled without trusted_proxy_ips; certificate headers will be ignored")
	}
	return p, nil
}

// Name returns "mtls".
func (p *MTLSProvider) Name() string {
	return ProviderMTLS
}

// Proxies returns the trusted proxy validator.
func (p *MTLSProvider) Proxies() *TrustedProxyValidator {
	return p.proxies
}

// Supports reports whether a verified peer certificate is present, or
// proxy certificate headers arrived from a trusted proxy. Headers from any
// other address are ignored so they cannot shadow the other credentials.
func (p *MTLSProvider) Supports(creds *Credentials) bool {
	if creds == nil {
		return false
	}
	if len(creds.PeerCertificates) > 0 {
		return true
	}
	if !p.proxies.IsTrusted(creds.RemoteAddr) {
		return false
	}
	for _, h := range clientCertHeaders {
		if creds.Header(h) != "" {
			return true
		}
	}
	return false
}

// Authenticate builds an Identity from the configured certificate field.
// A missing field is an InvalidCredential; there is no fallback source.
func (p *MTLSProvider) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	if creds == nil {
		return nil, MissingCredential().withProvider(ProviderMTLS)
	}
	info, err := p.certInfo(ctx, creds)
	if err != nil {
		return nil, err
	}
	return p.identityFrom(info)
}

func (p *MTLSProvider) certInfo(ctx context.Context, creds *Credentials) (ClientCertInfo, error) {
	if len(creds.PeerCertificates) > 0 {
		return ClientCertInfoFromCertificate(creds.PeerCertificates[0]), nil
	}

	if !p.proxies.IsTrusted(creds.RemoteAddr) {
		if p.proxies.HasTrustedRanges() {
			p.logger.Warn(ctx, "rejecting certificate headers from untrusted address",
				observe.Field{Key: "remote_addr", Value: creds.RemoteAddr.String()})
		}
		return ClientCertInfo{}, InvalidCredential("certificate headers from untrusted address").withProvider(ProviderMTLS)
	}

	verified := strings.TrimSpace(creds.Header(HeaderClientCertVerified))
	if !strings.EqualFold(verified, "SUCCESS") && !strings.EqualFold(verified, "true") {
		return ClientCertInfo{}, InvalidCredential("proxy did not verify client certificate").withProvider(ProviderMTLS)
	}

	return ClientCertInfo{
		CommonName: strings.TrimSpace(creds.Header(HeaderClientCertCN)),
		SANDNS:     splitHeaderList(creds.Header(HeaderClientCertSANDNS)),
		SANEmail:   splitHeaderList(creds.Header(HeaderClientCertSANEmail)),
		Verified:   true,
	}, nil
}

func (p *MTLSProvider) identityFrom(info ClientCertInfo) (*Identity, error) {
	var id string
	switch p.config.IdentitySource {
	case SourceCN:
		id = info.CommonName
	case SourceSANDNS:
		if len(info.SANDNS) > 0 {
			id = info.SANDNS[0]
		}
	case SourceSANEmail:
		if len(info.SANEmail) > 0 {
			id = info.SANEmail[0]
		}
	case SourceSPIFFEID:
		id = info.SPIFFEID
		if id != "" && !p.trustDomain.IsZero() {
			sid, err := spiffeid.FromString(id)
			if err != nil || !sid.MemberOf(p.trustDomain) {
				return nil, InvalidCredential(fmt.Sprintf("spiffe id %q outside trust domain %s", id, p.trustDomain)).withProvider(ProviderMTLS)
			}
		}
	}
	if id == "" {
		return nil, InvalidCredential(fmt.Sprintf("client certificate has no %s", p.config.IdentitySource)).withProvider(ProviderMTLS)
	}

	claims := map[string]any{"auth_method": ProviderMTLS}
	if info.CommonName != "" {
		claims["cn"] = info.CommonName
	}
	if info.SPIFFEID != "" {
		claims["spiffe_id"] = info.SPIFFEID
	}

	return &Identity{
		ID:           id,
		Name:         info.CommonName,
		AllowedTools: normalizeAllowedTools(p.config.AllowedTools),
		RateLimit:    p.config.RateLimit,
		Provider:     ProviderMTLS,
		Claims:       claims,
	}, nil
}

// splitHeaderList splits a comma-separated header value, dropping blanks.
func splitHeaderList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ Provider = (*MTLSProvider)(nil)
