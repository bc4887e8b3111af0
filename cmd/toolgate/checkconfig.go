package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/gateway"
)

type configSummary struct {
	Addr      string   `json:"addr"`
	Upstream  string   `json:"upstream,omitempty"`
	TLS       bool     `json:"tls"`
	Providers []string `json:"providers"`
	RateLimit string   `json:"rate_limit"`
	Checks    []string `json:"health_checks"`
}

func newCheckConfigCmd() *cobra.Command {
	var (
		cfgPath string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file and build its providers",
		Long: `Load the configuration, resolve its secrets and construct every
authentication provider without starting the server. A configuration
that check-config accepts is one serve will start with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			guard, err := gateway.Build(cfg, nil)
			if err != nil {
				return err
			}

			summary := configSummary{
				Addr:      cfg.Server.Addr,
				Upstream:  cfg.Server.Upstream,
				TLS:       cfg.Server.TLS != nil,
				Providers: cfg.Auth.Enabled(),
				RateLimit: "disabled",
				Checks:    guard.Health().Names(),
			}
			if rl := cfg.RateLimit; rl.Enabled {
				summary.RateLimit = fmt.Sprintf("%d rps, burst %d, %d tool limits", rl.RequestsPerSecond, rl.Burst, len(rl.Tools))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "configuration OK: %s\n", cfgPath)
			fmt.Fprintf(out, "  listen:     %s (tls: %v)\n", summary.Addr, summary.TLS)
			if summary.Upstream != "" {
				fmt.Fprintf(out, "  upstream:   %s\n", summary.Upstream)
			}
			fmt.Fprintf(out, "  providers:  %v\n", summary.Providers)
			fmt.Fprintf(out, "  rate limit: %s\n", summary.RateLimit)
			fmt.Fprintf(out, "  health:     %v\n", summary.Checks)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "toolgate.yaml", "configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
