package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/ratelimit"
)

// Build creates a guard from a loaded configuration. Provider
// construction failures are auth.ErrProviderMisconfigured.
func Build(cfg *config.Config, obs observe.Observer) (*Guard, error) {
	if obs == nil {
		obs = observe.Nop()
	}
	resolver, err := auth.BuildResolver(cfg.Auth, auth.Deps{
		Logger:  obs.Logger(),
		Metrics: obs.Metrics(),
		Tracer:  obs.Tracer(),
	})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit, obs.Logger())
	return New(resolver, limiter, Options{
		Logger:         obs.Logger(),
		Metrics:        obs.Metrics(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		HealthTimeout:  cfg.Server.HealthTimeout,
		MetricsHandler: obs.MetricsHandler(),
	}), nil
}

// NewServer creates the HTTP server for h. With a TLS section the server
// terminates TLS and, given a client CA, verifies client certificates
// when presented so that direct mTLS can identify the caller.
func NewServer(cfg config.ServerConfig, h http.Handler) (*http.Server, error) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if cfg.TLS == nil {
		return srv, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("gateway: load certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.TLS.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.TLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("gateway: read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("gateway: no certificates in %s", cfg.TLS.ClientCAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	srv.TLSConfig = tlsCfg
	return srv, nil
}

// Serve runs srv until ctx is done, then shuts it down gracefully within
// shutdownTimeout.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	return nil
}
