package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/observe"
)

// MCPPath is the guarded endpoint.
const MCPPath = "/mcp"

// HeaderIdentity carries the admitted identity ID to the upstream.
const HeaderIdentity = "X-Toolgate-Identity"

// credentialHeaders never reach the upstream.
var credentialHeaders = []string{
	"Authorization",
	auth.APIKeyHeader,
	auth.HeaderClientCertVerified,
	auth.HeaderClientCertCN,
	auth.HeaderClientCertSANDNS,
	auth.HeaderClientCertSANEmail,
	HeaderIdentity,
}

// NewUpstreamProxy returns a handler forwarding guarded requests to
// rawURL. The path below /mcp is appended to the upstream path, client
// credentials are stripped, and the admitted identity is sent in
// X-Toolgate-Identity. Responses are flushed immediately so event streams
// pass through.
func NewUpstreamProxy(rawURL string, logger observe.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamURL, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUpstreamURL, rawURL)
	}
	if logger == nil {
		logger = observe.NopLogger()
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = strings.TrimRight(target.Path, "/") + strings.TrimPrefix(pr.In.URL.Path, MCPPath)
			if pr.Out.URL.Path == "" {
				pr.Out.URL.Path = "/"
			}
			pr.Out.URL.RawPath = ""
			pr.Out.Host = ""
			pr.SetXForwarded()

			for _, h := range credentialHeaders {
				pr.Out.Header.Del(h)
			}
			// Without a client Accept-Encoding the transport negotiates gzip
			// and decodes it, so tools/list responses arrive filterable.
			pr.Out.Header.Del("Accept-Encoding")
			if id := auth.IdentityIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(HeaderIdentity, id)
			}
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error(r.Context(), "upstream request failed",
				observe.Field{Key: "upstream", Value: target.Host},
				observe.Field{Key: "error", Value: err.Error()},
			)
			writeRPCError(w, http.StatusBadGateway, nil, CodeUpstream, "upstream unavailable", nil)
		},
	}, nil
}
