package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/gateway"
	"github.com/jonwraymond/toolgate/observe"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath  string
		upstream string
		addr     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Example: `  toolgate serve -c toolgate.yaml --upstream http://localhost:3000/mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx, cfgPath)
			if err != nil {
				return err
			}
			if upstream != "" {
				cfg.Server.Upstream = upstream
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "toolgate.yaml", "configuration file")
	cmd.Flags().StringVar(&upstream, "upstream", "", "tool server URL (overrides server.upstream)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Server.Upstream == "" {
		return errors.New("no upstream: set server.upstream or --upstream")
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.WithoutCancel(ctx)) }()
	logger := obs.Logger()

	guard, err := gateway.Build(cfg, obs)
	if err != nil {
		return err
	}
	proxy, err := gateway.NewUpstreamProxy(cfg.Server.Upstream, logger)
	if err != nil {
		return err
	}
	srv, err := gateway.NewServer(cfg.Server, guard.Routes(proxy))
	if err != nil {
		return err
	}

	logger.Info(ctx, "gateway starting",
		observe.Field{Key: "addr", Value: cfg.Server.Addr},
		observe.Field{Key: "upstream", Value: cfg.Server.Upstream},
		observe.Field{Key: "providers", Value: cfg.Auth.Enabled()},
		observe.Field{Key: "tls", Value: cfg.Server.TLS != nil},
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return guard.Run(ctx) })
	g.Go(func() error { return gateway.Serve(ctx, srv, cfg.Server.ShutdownTimeout) })
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info(ctx, "gateway stopped")
	return nil
}
