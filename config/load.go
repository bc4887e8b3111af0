package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/secret"
)

// Load reads and validates the configuration file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, misconfigured("read "+path, err)
	}
	return Parse(ctx, data)
}

// Parse decodes, resolves and validates a YAML configuration.
func Parse(ctx context.Context, data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, misconfigured("decode yaml", err)
	}
	cfg.applyDefaults()

	if err := cfg.ResolveSecrets(ctx, secret.NewDefaultRegistry()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveSecrets replaces environment and secret references in every
// credential field using providers created from reg.
func (c *Config) ResolveSecrets(ctx context.Context, reg *secret.Registry) error {
	res, err := reg.NewResolver(!c.Secrets.AllowEmpty, c.Secrets.Providers)
	if err != nil {
		return misconfigured("secret providers", err)
	}
	defer res.Close()

	if err := res.ResolveFields(ctx, c.secretFields()...); err != nil {
		return misconfigured("resolve secrets", err)
	}
	return nil
}

// Validate checks struct tags and the rules spanning sections.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return misconfigured(describe(err), nil)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return misconfigured("rate_limit", err)
	}
	if err := c.Observe.Validate(); err != nil {
		return misconfigured("observe", err)
	}

	// Direct mTLS needs a client CA; otherwise certificates can only
	// arrive through trusted proxy headers.
	if m := c.Auth.MTLS; m != nil && len(m.TrustedProxyIPs) == 0 {
		if c.Server.TLS == nil || c.Server.TLS.ClientCAFile == "" {
			return misconfigured("auth.mtls requires server.tls.client_ca_file or trusted_proxy_ips", nil)
		}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describe renders validation errors using YAML key paths, e.g.
// "auth.jwt.issuer: required".
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		msg := path + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

func misconfigured(reason string, cause error) error {
	return &auth.Error{
		Kind:   auth.KindProviderMisconfigured,
		Reason: fmt.Sprintf("config: %s", reason),
		Cause:  cause,
	}
}
