package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonwraymond/toolgate/ratelimit"
)

func TestNewUpstreamProxy(t *testing.T) {
	var got *http.Request
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(upstream.URL+"/rpc/", nil)
	if err != nil {
		t.Fatalf("NewUpstreamProxy() error = %v", err)
	}
	h := newTestGuard(t, ratelimit.Config{}).Routes(proxy)

	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(toolCall(1, "read_file")))
	req.Header.Set("Authorization", "Bearer "+readerKey)
	req.Header.Set(HeaderIdentity, "spoofed")
	req.Header.Set("X-Client-Cert-CN", "spoofed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d (%s)", rec.Code, rec.Body.String())
	}
	if got.URL.Path != "/rpc" {
		t.Errorf("upstream path = %q, want /rpc", got.URL.Path)
	}
	if gotBody != toolCall(1, "read_file") {
		t.Errorf("upstream body = %q", gotBody)
	}
	if got.Header.Get("Authorization") != "" || got.Header.Get("X-Client-Cert-CN") != "" {
		t.Errorf("credentials forwarded: %v", got.Header)
	}
	if id := got.Header.Get(HeaderIdentity); id != "reader" {
		t.Errorf("%s = %q, want reader", HeaderIdentity, id)
	}
	if got.Header.Get("X-Forwarded-For") == "" {
		t.Error("X-Forwarded-For not set")
	}
}

func TestNewUpstreamProxy_CompressedToolsList(t *testing.T) {
	var sawEncoding string
	compressed := gzipUpstream(t, toolsListResult)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawEncoding = r.Header.Get("Accept-Encoding")
		if !strings.Contains(sawEncoding, "gzip") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(toolsListResult))
			return
		}
		compressed.ServeHTTP(w, r)
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(upstream.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := newTestGuard(t, ratelimit.Config{}).Routes(proxy)

	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`))
	req.Header.Set("Authorization", "Bearer "+readerKey)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d (%s)", rec.Code, rec.Body.String())
	}
	if sawEncoding != "gzip" {
		t.Errorf("upstream Accept-Encoding = %q, want transport gzip", sawEncoding)
	}
	want := `{"jsonrpc":"2.0","id":7,"result":{"tools":[{"name":"read_file"}]}}`
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestNewUpstreamProxy_SubPath(t *testing.T) {
	var path string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(upstream.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := newTestGuard(t, ratelimit.Config{}).Routes(proxy)

	req := httptest.NewRequest(http.MethodGet, MCPPath+"/sse", nil)
	req.Header.Set("X-API-Key", adminKey)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if path != "/sse" {
		t.Errorf("upstream path = %q, want /sse", path)
	}
}

func TestNewUpstreamProxy_Unreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	proxy, err := NewUpstreamProxy(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := newTestGuard(t, ratelimit.Config{}).Routes(proxy)

	rec := post(t, h, adminKey, toolCall(9, "read_file"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502", rec.Code)
	}
	if reply := decodeReply(t, rec); reply.Error == nil || reply.Error.Code != CodeUpstream {
		t.Errorf("reply = %+v", reply)
	}
}

func TestNewUpstreamProxy_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:3000", "ftp://host/x", "http://%zz"} {
		if _, err := NewUpstreamProxy(raw, nil); !errors.Is(err, ErrUpstreamURL) {
			t.Errorf("NewUpstreamProxy(%q) error = %v, want ErrUpstreamURL", raw, err)
		}
	}
}
