// Package secret resolves credentials referenced from gateway configuration.
//
// Config values may hold:
//   - ${VAR} references, expanded strictly (see ExpandEnvStrict)
//   - a full reference:   secretref:file:/run/secrets/jwt-hmac
//   - an inline reference: Bearer secretref:env:INTROSPECTION_TOKEN
//
// The built-in providers are "env" and "file". Further providers plug in
// through a Registry.
package secret
