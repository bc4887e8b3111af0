package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/ratelimit"
)

const (
	adminKey  = "mcp_admin"
	readerKey = "mcp_reader"
)

const toolsListResult = `{"jsonrpc":"2.0","id":7,"result":{"tools":[{"name":"read_file"},{"name":"write_file"}]}}`

func newTestGuard(t *testing.T, rl ratelimit.Config) *Guard {
	t.Helper()
	resolver, err := auth.BuildResolver(auth.Config{
		APIKeys: &auth.APIKeyConfig{
			Prefix: "mcp_",
			Keys: []auth.APIKeyInfo{
				{ID: "admin", KeyHash: auth.HashAPIKey(adminKey)},
				{ID: "reader", KeyHash: auth.HashAPIKey(readerKey), AllowedTools: []string{"read_file"}, RateLimit: 2},
			},
		},
	}, auth.Deps{})
	if err != nil {
		t.Fatalf("BuildResolver() error = %v", err)
	}
	return New(resolver, ratelimit.NewLimiter(rl, nil), Options{})
}

// echoUpstream answers tools/list with two tools and anything else with
// the identity it saw.
func echoUpstream(contentType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"tools/list"`) {
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Length", "999")
			if contentType == "text/event-stream" {
				_, _ = io.WriteString(w, "event: message\ndata: "+toolsListResult+"\n\n")
				return
			}
			_, _ = io.WriteString(w, toolsListResult)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"identity":"`+auth.IdentityIDFromContext(r.Context())+`"}}`)
	})
}

func toolCall(id int, tool string) string {
	return `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"tools/call","params":{"name":"` + tool + `","arguments":{}}}`
}

func post(t *testing.T, h http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type rpcReply struct {
	ID    json.RawMessage `json:"id"`
	Error *struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	} `json:"error"`
	Result json.RawMessage `json:"result"`
}

func decodeReply(t *testing.T, rec *httptest.ResponseRecorder) rpcReply {
	t.Helper()
	var reply rpcReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return reply
}
