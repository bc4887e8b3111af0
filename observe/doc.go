// Package observe provides the logging, metrics and tracing primitives used
// by the gateway's admission path.
//
// Logging is structured JSON via zap with credential-like keys redacted.
// Metrics and spans are OpenTelemetry instruments; every constructor has a
// no-op counterpart so callers never need nil checks.
package observe
