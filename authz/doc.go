// Package authz decides whether an authenticated identity may call a tool.
//
// Decisions are pure functions of an [auth.Identity] and a JSON-RPC
// [Message]. A tools/call request is gated on the tool name in its params;
// every other method is allowed. On the return path, [FilterToolsList]
// removes tools the identity may not call from a tools/list result without
// re-encoding the entries that remain.
//
// An identity with a nil allow-list, or one containing "*", may call any
// tool. Otherwise the tool name must match an allow-list entry exactly.
package authz
