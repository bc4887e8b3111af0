// Package config loads the gateway configuration.
//
// A configuration file is YAML. Loading runs in four steps:
//
//  1. defaults are applied
//  2. the file is decoded; unknown keys are rejected
//  3. credential fields are resolved through the secret package, so
//     "${JWT_SECRET}" and "secretref:file:/run/secrets/jwt" both work
//  4. struct tags and cross-section rules are validated
//
// Any failure is reported as an auth.ErrProviderMisconfigured error and
// the gateway refuses to start.
package config
