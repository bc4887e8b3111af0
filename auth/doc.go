// Package auth resolves the credentials on an inbound MCP request into an
// Identity.
//
// Four providers are supported: API keys (hashed, compared in constant
// time), JWTs (HMAC secret or JWKS), OAuth 2.1 access tokens (introspection
// or userinfo, with a PKCE authorization flow) and client certificates
// (direct TLS or headers from a trusted proxy).
//
// A Resolver consults the providers in a fixed order and asks only the
// first applicable one to authenticate. Failures are *Error values whose
// Kind classifies them; PublicMessage is the only text meant for clients.
package auth
