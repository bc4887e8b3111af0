package authz

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// JSON-RPC methods the engine inspects.
const (
	MethodToolsCall = "tools/call"
	MethodToolsList = "tools/list"
)

// Message is a JSON-RPC 2.0 request or response. Members other than
// Method are kept raw so they can be forwarded unchanged.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ParseMessage decodes a single JSON-RPC message. Batches are rejected:
// each call in a batch would need its own decision.
func ParseMessage(body []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}
	if trimmed[0] == '[' {
		return nil, fmt.Errorf("%w: batch requests are not supported", ErrMalformedMessage)
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// IsToolCall reports whether msg is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m != nil && m.Method == MethodToolsCall
}

// IsToolsList reports whether msg is a tools/list request.
func (m *Message) IsToolsList() bool {
	return m != nil && m.Method == MethodToolsList
}

// ToolName returns params.name of a tools/call request. It returns false
// for other methods and unless params holds exactly one name member with
// a string value: decoders disagree on which duplicate wins, so a
// duplicated name cannot be decided on.
func ToolName(msg *Message) (string, bool) {
	if !msg.IsToolCall() || len(msg.Params) == 0 {
		return "", false
	}
	return entryName(gjson.ParseBytes(msg.Params))
}

// ambiguousToolName reports whether a tools/call carries more than one
// name member in params.
func ambiguousToolName(msg *Message) bool {
	if !msg.IsToolCall() || len(msg.Params) == 0 {
		return false
	}
	_, count := nameMembers(gjson.ParseBytes(msg.Params))
	return count > 1
}
