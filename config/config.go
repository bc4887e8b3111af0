package config

import (
	"time"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/ratelimit"
)

// Server defaults.
const (
	DefaultAddr              = ":8080"
	DefaultMaxBodyBytes      = 1 << 20
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
)

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Auth      auth.Config      `yaml:"auth"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Observe   observe.Config   `yaml:"observe"`
	Secrets   SecretsConfig    `yaml:"secrets"`
}

// ServerConfig configures the HTTP listener and the upstream tool server.
type ServerConfig struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string `yaml:"addr" validate:"required"`

	// Upstream is the base URL of the tool server requests are proxied to.
	Upstream string `yaml:"upstream" validate:"omitempty,url"`

	// MaxBodyBytes bounds an inbound JSON-RPC body.
	// Default: 1 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=0"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// HealthTimeout bounds a health check run.
	// Default: 5s
	HealthTimeout time.Duration `yaml:"health_timeout" validate:"gte=0"`

	// TLS enables HTTPS. A ClientCAFile enables direct mTLS.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig configures the listener certificate and client verification.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file" validate:"required"`
	KeyFile      string `yaml:"key_file" validate:"required"`
	ClientCAFile string `yaml:"client_ca_file"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	// AllowEmpty accepts secret references that resolve to "".
	AllowEmpty bool `yaml:"allow_empty"`

	// Providers holds per-provider settings, e.g. file: {base_dir: /run/secrets}.
	Providers map[string]map[string]any `yaml:"providers"`
}

// Default returns a configuration with every default applied and no
// authentication provider enabled.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              DefaultAddr,
			MaxBodyBytes:      DefaultMaxBodyBytes,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
			HealthTimeout:     DefaultHealthTimeout,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Observe:   observe.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = d.Server.ReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.HealthTimeout == 0 {
		c.Server.HealthTimeout = d.Server.HealthTimeout
	}
	if c.RateLimit.Enabled {
		c.RateLimit = c.RateLimit.WithDefaults()
	}
	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = d.Observe.ServiceName
	}
}

// secretFields returns the credential-bearing fields that may hold
// environment or secret references.
func (c *Config) secretFields() []*string {
	var fields []*string
	if k := c.Auth.APIKeys; k != nil {
		for i := range k.Keys {
			fields = append(fields, &k.Keys[i].KeyHash)
		}
	}
	if j := c.Auth.JWT; j != nil {
		fields = append(fields, &j.Secret, &j.JWKSURL, &j.Issuer, &j.Audience)
	}
	if o := c.Auth.OAuth; o != nil {
		fields = append(fields,
			&o.ClientID, &o.ClientSecret,
			&o.AuthorizationURL, &o.TokenURL, &o.UserinfoURL, &o.IntrospectionURL,
			&o.RedirectURI,
		)
	}
	if t := c.Server.TLS; t != nil {
		fields = append(fields, &t.CertFile, &t.KeyFile, &t.ClientCAFile)
	}
	fields = append(fields, &c.Server.Upstream)
	return fields
}
