package authz

import (
	"fmt"
	"slices"

	"github.com/jonwraymond/toolgate/auth"
)

// PublicDenyMessage is the only denial detail returned to clients.
const PublicDenyMessage = "tool not permitted"

// Decision is the outcome of authorizing a message.
type Decision struct {
	// Allowed reports whether the message may be forwarded.
	Allowed bool

	// Tool is the tool name the decision was made for, if any.
	Tool string

	// Reason explains a denial. It is meant for audit logs, not clients.
	Reason string
}

// Allow returns an allowing decision.
func Allow(tool string) Decision {
	return Decision{Allowed: true, Tool: tool}
}

// Deny returns a denying decision with an audit reason.
func Deny(tool, reason string) Decision {
	return Decision{Tool: tool, Reason: reason}
}

// AuthorizeToolCall reports whether identity may call tool.
func AuthorizeToolCall(identity *auth.Identity, tool string) bool {
	if identity == nil {
		return false
	}
	if identity.Unrestricted() {
		return true
	}
	return slices.Contains(identity.AllowedTools, tool)
}

// Authorize decides whether identity may send msg.
//
// Only tools/call is gated. A tools/call whose params repeat the name
// member is denied for every identity. One without a string tool name is
// allowed for unrestricted identities and denied otherwise.
func Authorize(identity *auth.Identity, msg *Message) Decision {
	if identity == nil {
		return Deny("", "no identity")
	}
	if !msg.IsToolCall() {
		return Allow("")
	}

	if ambiguousToolName(msg) {
		return Deny("", fmt.Sprintf("Identity '%s' sent tools/call with a repeated tool name", identity.ID))
	}

	tool, ok := ToolName(msg)
	if !ok {
		if identity.Unrestricted() {
			return Allow("")
		}
		return Deny("", fmt.Sprintf("Identity '%s' sent tools/call without a tool name", identity.ID))
	}

	if !AuthorizeToolCall(identity, tool) {
		return Deny(tool, fmt.Sprintf("Identity '%s' is not authorized to call tool '%s'", identity.ID, tool))
	}
	return Allow(tool)
}
