// Package gateway puts the identity and access core in front of a tool
// server.
//
// A Guard admits each JSON-RPC request in three steps: the credentials
// are resolved to an identity, tools/call is checked against the
// identity's allow-list, and the identity and tool token buckets are
// charged. Admitted requests reach the upstream handler with the identity
// in their context; tools/list responses are filtered on the way back.
//
// Routes mounts the guarded endpoint together with the OAuth
// authorization code flow and the health endpoints:
//
//	POST /mcp               guarded JSON-RPC endpoint
//	GET  /oauth/authorize   start the PKCE flow (oauth only)
//	GET  /oauth/callback    redeem the authorization code (oauth only)
//	GET  /healthz /readyz /health /health/{name}
package gateway
