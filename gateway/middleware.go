package gateway

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/authz"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Middleware guards next. POST bodies are decoded as a single JSON-RPC
// message; other methods carry no message and are only authenticated and
// rate limited. The admitted identity is attached to the request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg *authz.Message
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeRPCError(w, http.StatusRequestEntityTooLarge, nil, CodeInvalidRequest, "request body too large", nil)
					return
				}
				writeRPCError(w, http.StatusBadRequest, nil, CodeParseError, "unreadable request body", nil)
				return
			}
			msg, err = authz.ParseMessage(body)
			if err != nil {
				writeRPCError(w, http.StatusBadRequest, nil, CodeInvalidRequest, "invalid JSON-RPC message", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}

		var id []byte
		if msg != nil {
			id = msg.ID
		}

		adm, err := g.Admit(r.Context(), auth.CredentialsFromRequest(r), msg)
		if err != nil {
			g.writeAdmitError(w, r, id, err)
			return
		}

		if g.limiter.Config().Enabled {
			setRateLimitHeaders(w.Header(), adm.Limit)
		}
		r = r.WithContext(auth.WithIdentity(r.Context(), adm.Identity))

		if !msg.IsToolsList() || adm.Identity.Unrestricted() {
			next.ServeHTTP(w, r)
			return
		}

		r.Header.Del("Accept-Encoding")
		buf := newBufferedResponse()
		next.ServeHTTP(buf, r)
		g.writeFiltered(w, r, adm.Identity, id, buf)
	})
}

func (g *Guard) writeAdmitError(w http.ResponseWriter, r *http.Request, id []byte, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		if rej.Reason == ErrRateLimited {
			setRateLimitHeaders(w.Header(), rej.Limit)
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(rej.Limit.RetryAfterSecs))
			writeRPCError(w, http.StatusTooManyRequests, id, CodeRateLimited, "rate limit exceeded",
				map[string]any{"retry_after": rej.Limit.RetryAfterSecs})
			return
		}
		writeRPCError(w, http.StatusForbidden, id, CodeForbidden, authz.PublicDenyMessage, nil)
		return
	}

	ae := auth.AsError(err)
	switch ae.Kind {
	case auth.KindMissingCredential:
		w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate"`)
		writeRPCError(w, http.StatusUnauthorized, id, CodeUnauthorized, ae.PublicMessage(), nil)
	case auth.KindInvalidCredential, auth.KindExpired:
		w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate", error="invalid_token"`)
		writeRPCError(w, http.StatusUnauthorized, id, CodeUnauthorized, ae.PublicMessage(), nil)
	case auth.KindUpstreamUnavailable:
		writeRPCError(w, http.StatusServiceUnavailable, id, CodeUnavailable, ae.PublicMessage(), nil)
	default:
		g.logger.Error(r.Context(), "admission failed", observe.Field{Key: "error", Value: ae.Error()})
		writeRPCError(w, http.StatusInternalServerError, id, CodeInternal, "internal error", nil)
	}
}

// writeFiltered removes the tools identity may not call from a buffered
// tools/list response. JSON bodies are filtered as a whole; event
// streams are filtered per data line. A body that cannot be filtered is
// withheld. A gzip body is decoded first and written back uncompressed.
func (g *Guard) writeFiltered(w http.ResponseWriter, r *http.Request, identity *auth.Identity, id []byte, buf *bufferedResponse) {
	filtered := buf.body.Bytes()
	var err error
	if buf.status < 300 {
		filtered, err = filterBody(identity, buf)
	}
	if err != nil {
		g.logger.Error(r.Context(), "tools/list response withheld",
			observe.Field{Key: "identity_id", Value: identity.ID},
			observe.Field{Key: "error", Value: err.Error()},
		)
		writeRPCError(w, http.StatusBadGateway, id, CodeUpstream, "invalid upstream response", nil)
		return
	}

	h := w.Header()
	for k, v := range buf.header {
		h[k] = v
	}
	h.Del("Content-Length")
	w.WriteHeader(buf.status)
	_, _ = w.Write(filtered)
}

func filterBody(identity *auth.Identity, buf *bufferedResponse) ([]byte, error) {
	body, err := decodeBody(buf.header.Get("Content-Encoding"), buf.body.Bytes())
	if err != nil {
		return nil, err
	}
	buf.header.Del("Content-Encoding")

	mediaType, _, _ := mime.ParseMediaType(buf.header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return filterEventStream(identity, body)
	}
	return authz.FilterResponseBody(identity, body)
}

// decodeBody undoes a Content-Encoding. Encodings other than gzip are
// rejected.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		plain, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return plain, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// filterEventStream filters every "data:" line that carries a JSON-RPC
// response. Other lines pass through.
func filterEventStream(identity *auth.Identity, stream []byte) ([]byte, error) {
	lines := bytes.SplitAfter(stream, []byte("\n"))
	var out bytes.Buffer
	for _, line := range lines {
		payload, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			out.Write(line)
			continue
		}
		content := bytes.TrimRight(payload, "\r\n")
		eol := payload[len(content):]
		content = bytes.TrimLeft(content, " ")

		if !bytes.HasPrefix(content, []byte("{")) {
			out.Write(line)
			continue
		}
		filtered, err := authz.FilterResponseBody(identity, content)
		if err != nil {
			return nil, err
		}
		out.WriteString("data: ")
		out.Write(filtered)
		out.Write(eol)
	}
	return out.Bytes(), nil
}

func setRateLimitHeaders(h http.Header, res ratelimit.Result) {
	if res.Limit <= 0 {
		return
	}
	h.Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// bufferedResponse captures an upstream response for rewriting.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) { b.status = status }

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }
