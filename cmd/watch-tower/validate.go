package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/source/algorand"
	"github.com/devblac/watch-tower/internal/source/evm"
	"github.com/devblac/watch-tower/internal/source/stellar"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping every network's RPC endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (%d networks, %d monitors, %d triggers)\n",
			len(cfg.Networks), len(cfg.Monitors), len(cfg.Triggers))

		failures := 0
		for _, network := range cfg.Networks {
			for _, ep := range network.Endpoints {
				height, err := pingEndpoint(cmd.Context(), network, ep)
				if err != nil {
					failures++
					fmt.Fprintf(out, "- %s (%s) %s: ERROR %v\n", network.Slug, network.ChainFamily, ep.URL, err)
					continue
				}
				fmt.Fprintf(out, "- %s (%s) %s: latest block %d OK\n", network.Slug, network.ChainFamily, ep.URL, height)
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d endpoint(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

// pingEndpoint dials one RPC endpoint and calls LatestBlockNumber, the
// same health signal internal/health.RPCChecker uses at runtime.
func pingEndpoint(ctx context.Context, network config.Network, ep config.RPCEndpoint) (uint64, error) {
	timeout := time.Duration(network.RequestTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch network.ChainFamily {
	case "evm":
		rpc, err := evm.Dial(ep.URL)
		if err != nil {
			return 0, fmt.Errorf("dial: %w", err)
		}
		return evm.NewClient(rpc, network.Slug).LatestBlockNumber(ctx)
	case "algorand":
		cli, err := algorand.NewAlgodClient(ep.URL, "")
		if err != nil {
			return 0, fmt.Errorf("dial: %w", err)
		}
		return algorand.NewClient(cli, network.Slug).LatestBlockNumber(ctx)
	case "stellar":
		return stellar.NewClient(ep.URL, network.Slug, timeout).LatestBlockNumber(ctx)
	default:
		return 0, fmt.Errorf("unsupported chain family %q", network.ChainFamily)
	}
}
